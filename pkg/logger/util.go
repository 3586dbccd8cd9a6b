package logger

import "github.com/sirupsen/logrus"

// Context is a set of structured fields attached to a component's log entries.
type Context logrus.Fields

// Fields returns the context as logrus fields.
func (c Context) Fields() logrus.Fields {
	return logrus.Fields(c)
}

// MergeContexts returns a new merged Context object from the inputs, prefering later inputs.
func MergeContexts(xs ...Context) Context {
	ys := Context{}
	for _, x := range xs {
		for k, v := range x {
			ys[k] = v
		}
	}
	return ys
}

// Component returns a logger tagged with the component name and any extra context.
func Component(name string, extra ...Context) *logrus.Entry {
	ctx := MergeContexts(append([]Context{{"component": name}}, extra...)...)
	return logrus.WithFields(ctx.Fields())
}
