package resource

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packageml/packageml/internal/gateway"
)

type item struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type detail struct {
	item
	Extra string `json:"extra"`
}

// scriptedAPI answers list requests in the order the test releases them.
type scriptedAPI struct {
	mu       sync.Mutex
	lists    []chan listReply
	items    map[int]item
	deletes  []string
	failNext error
	gate     chan struct{}
}

type listReply struct {
	items []item
	err   error
}

func newScriptedAPI(items ...item) *scriptedAPI {
	api := &scriptedAPI{items: map[int]item{}}
	for _, it := range items {
		api.items[it.ID] = it
	}
	return api
}

// pending registers a list request that blocks until the returned channel receives a reply.
func (a *scriptedAPI) pending() chan listReply {
	ch := make(chan listReply, 1)
	a.mu.Lock()
	a.lists = append(a.lists, ch)
	a.mu.Unlock()
	return ch
}

// waiting returns how many registered replies have not been picked up by a request yet.
func (a *scriptedAPI) waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lists)
}

func (a *scriptedAPI) Get(ctx context.Context, path string, out interface{}) error {
	a.mu.Lock()
	if path == "/things/" {
		if len(a.lists) > 0 {
			ch := a.lists[0]
			a.lists = a.lists[1:]
			a.mu.Unlock()
			reply := <-ch
			if reply.err != nil {
				return reply.err
			}
			*out.(*[]item) = reply.items
			return nil
		}
		var all []item
		for i := 1; i <= 100; i++ {
			if it, ok := a.items[i]; ok {
				all = append(all, it)
			}
		}
		err := a.failNext
		a.failNext = nil
		a.mu.Unlock()
		if err != nil {
			return err
		}
		*out.(*[]item) = all
		return nil
	}
	defer a.mu.Unlock()
	var id int
	_, _ = fmt.Sscanf(strings.TrimPrefix(path, "/things/"), "%d", &id)
	it, ok := a.items[id]
	if !ok {
		return &gateway.APIError{Kind: gateway.ErrNotFound, Status: 404, Detail: "Thing not found"}
	}
	*out.(*detail) = detail{item: it, Extra: "x"}
	return nil
}

func (a *scriptedAPI) Post(ctx context.Context, path string, in, out interface{}) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := in.(map[string]string)["name"]
	if name == "" {
		return &gateway.APIError{Kind: gateway.ErrValidationFailed, Status: 400,
			Detail: "Name is required"}
	}
	it := item{ID: len(a.items) + 1, Name: name}
	a.items[it.ID] = it
	*out.(*item) = it
	return nil
}

func (a *scriptedAPI) Put(ctx context.Context, path string, in, out interface{}) error {
	return errors.New("unused")
}

func (a *scriptedAPI) Delete(ctx context.Context, path string) error {
	a.mu.Lock()
	gate := a.gate
	a.deletes = append(a.deletes, path)
	err := a.failNext
	a.failNext = nil
	a.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	var id int
	_, _ = fmt.Sscanf(strings.TrimPrefix(path, "/things/"), "%d", &id)
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.items[id]; !ok {
		return &gateway.APIError{Kind: gateway.ErrNotFound, Status: 404, Detail: "Thing not found"}
	}
	delete(a.items, id)
	return nil
}

func newController(api API, rec *Recorder) *Controller[int, item, detail] {
	return New[int, item, detail](api, Collection[int, item]{
		Noun: "thing",
		Root: "/things/",
		Key:  func(i item) int { return i.ID },
	}, WithNotifier(rec))
}

func names(items []item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestListEmptyIsNotFailure(t *testing.T) {
	c := newController(newScriptedAPI(), &Recorder{})
	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, items)

	state := c.State()
	require.True(t, state.Loaded)
	require.False(t, state.Loading)
	require.NoError(t, state.Err)
}

func TestOutOfOrderListKeepsNewest(t *testing.T) {
	api := newScriptedAPI()
	c := newController(api, &Recorder{})
	first, second := api.pending(), api.pending()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.List(context.Background())
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return api.waiting() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := c.List(context.Background())
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return api.waiting() == 0 }, time.Second, time.Millisecond)

	// The newer request resolves first; the older one must not overwrite it.
	second <- listReply{items: []item{{ID: 1, Name: "new"}}}
	first <- listReply{items: []item{{ID: 1, Name: "old"}}}
	wg.Wait()
	<-done

	require.Equal(t, []string{"new"}, names(c.State().Items))
	require.False(t, c.State().Loading)
}

func TestRefreshNeverMarksLoading(t *testing.T) {
	api := newScriptedAPI()
	c := newController(api, &Recorder{})
	reply := api.pending()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return c.State().Refreshing }, time.Second, time.Millisecond)
	require.False(t, c.State().Loading)
	reply <- listReply{items: []item{{ID: 1, Name: "a"}}}
	<-done
	require.False(t, c.State().Refreshing)
}

func TestFailedListPreservesCache(t *testing.T) {
	api := newScriptedAPI(item{ID: 1, Name: "a"})
	c := newController(api, &Recorder{})
	_, err := c.List(context.Background())
	require.NoError(t, err)

	api.failNext = &gateway.APIError{Kind: gateway.ErrUnreachable}
	items, err := c.Refresh(context.Background())
	require.ErrorIs(t, err, gateway.ErrUnreachable)
	require.Equal(t, []string{"a"}, names(items))
	require.ErrorIs(t, c.State().Err, gateway.ErrUnreachable)
}

func TestMutationBeatsOlderList(t *testing.T) {
	api := newScriptedAPI()
	c := newController(api, &Recorder{})
	reply := api.pending()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.List(context.Background())
	}()
	require.Eventually(t, func() bool { return c.State().Loading }, time.Second, time.Millisecond)

	created, err := c.Create(context.Background(), map[string]string{"name": "fresh"})
	require.NoError(t, err)
	require.Equal(t, 1, created.ID)

	reply <- listReply{items: []item{}}
	<-done
	require.Equal(t, []string{"fresh"}, names(c.State().Items))
}

func TestCreateValidationIsVerbatim(t *testing.T) {
	c := newController(newScriptedAPI(), &Recorder{})
	_, err := c.Create(context.Background(), map[string]string{})
	require.ErrorIs(t, err, gateway.ErrValidationFailed)
	require.Equal(t, "Name is required", gateway.Detail(err))
	require.Empty(t, c.State().Items)
}

func TestRemoveRequiresConfirmation(t *testing.T) {
	api := newScriptedAPI(item{ID: 1, Name: "a"})
	c := newController(api, &Recorder{})
	_, err := c.List(context.Background())
	require.NoError(t, err)

	var prompt string
	err = c.Remove(context.Background(), 1, ConfirmFunc(func(p string) bool {
		prompt = p
		return false
	}))
	require.ErrorIs(t, err, ErrNotConfirmed)
	require.Contains(t, prompt, "thing 1")
	require.Empty(t, api.deletes)
	require.Len(t, c.State().Items, 1)
}

func TestRemoveOnlyAfterSuccess(t *testing.T) {
	api := newScriptedAPI(item{ID: 1, Name: "a"}, item{ID: 2, Name: "b"})
	rec := &Recorder{}
	c := newController(api, rec)
	_, err := c.List(context.Background())
	require.NoError(t, err)

	api.failNext = &gateway.APIError{Kind: gateway.ErrUnreachable}
	require.ErrorIs(t, c.Remove(context.Background(), 1, Confirmed), gateway.ErrUnreachable)
	require.Equal(t, []string{"a", "b"}, names(c.State().Items))

	require.NoError(t, c.Remove(context.Background(), 1, Confirmed))
	require.Equal(t, []string{"b"}, names(c.State().Items))
	require.Equal(t, []Notice{{Level: Info, Message: "thing 1 deleted"}}, rec.Drain())
}

func TestNotFoundDropsFromCache(t *testing.T) {
	api := newScriptedAPI(item{ID: 1, Name: "a"}, item{ID: 2, Name: "b"})
	rec := &Recorder{}
	c := newController(api, rec)
	_, err := c.List(context.Background())
	require.NoError(t, err)

	d, err := c.Get(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "x", d.Extra)
	_, cached := c.Cached(2)
	require.True(t, cached)

	// Deleted behind our back.
	api.mu.Lock()
	delete(api.items, 2)
	api.mu.Unlock()

	_, err = c.Get(context.Background(), 2)
	require.ErrorIs(t, err, gateway.ErrNotFound)
	require.Equal(t, []string{"a"}, names(c.State().Items))
	_, cached = c.Cached(2)
	require.False(t, cached)
	require.Equal(t, []Notice{{Level: Warning, Message: "thing 2 no longer exists"}}, rec.Drain())
}

func TestDuplicateSubmissionIsRejected(t *testing.T) {
	api := newScriptedAPI(item{ID: 1, Name: "a"})
	api.gate = make(chan struct{})
	c := newController(api, &Recorder{})

	done := make(chan error)
	go func() { done <- c.Remove(context.Background(), 1, Confirmed) }()
	require.Eventually(t, func() bool { return c.InFlight("remove/1") }, time.Second, time.Millisecond)

	require.ErrorIs(t, c.Remove(context.Background(), 1, Confirmed), ErrInFlight)
	close(api.gate)
	require.NoError(t, <-done)
	require.Len(t, api.deletes, 1)
	require.False(t, c.InFlight("remove/1"))
}

func TestSubscribersSeeAppliedLists(t *testing.T) {
	c := newController(newScriptedAPI(item{ID: 1, Name: "a"}), &Recorder{})
	var seen [][]string
	c.Subscribe(func(items []item) { seen = append(seen, names(items)) })

	_, err := c.List(context.Background())
	require.NoError(t, err)
	c.Drop(1)
	require.Equal(t, [][]string{{"a"}, {}}, seen)
}
