package preview

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestCheckFile(t *testing.T) {
	cases := []struct {
		name string
		size int64
		err  error
	}{
		{"data.csv", 1024, nil},
		{"DATA.JSON", 1024, nil},
		{"book.xlsx", MaxFileSize - 1, nil},
		{"legacy.xls", 10, nil},
		{"data.csv", MaxFileSize, ErrTooLarge},
		{"data.csv", 20 * 1024 * 1024, ErrTooLarge},
		{"data.txt", 10, ErrInvalidType},
		{"noextension", 10, ErrInvalidType},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%d", tc.name, tc.size), func(t *testing.T) {
			err := CheckFile(tc.name, tc.size)
			if tc.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
		})
	}
	require.Equal(t, "File is too large. Maximum size is 10MB.", CheckFile("a.csv", MaxFileSize).Error())
	require.Equal(t, "Invalid file type. Supported formats: CSV, JSON, Excel (xlsx, xls)",
		CheckFile("a.pdf", 1).Error())
}

func TestSuggestName(t *testing.T) {
	require.Equal(t, "My Data Set", SuggestName("my_data-set.csv"))
	require.Equal(t, "Iris", SuggestName("/tmp/iris.tar.gz"))
	require.Equal(t, "Sales 2024", SuggestName("sales_2024.xlsx"))
}

func TestParseCSVWithHeader(t *testing.T) {
	var b strings.Builder
	b.WriteString("name,,age\n")
	for i := 0; i < 8; i++ {
		fmt.Fprintf(&b, "user%d,x,%d\n", i, 20+i)
	}
	p, err := Parse(strings.NewReader(b.String()), "csv", true)
	require.NoError(t, err)
	require.Equal(t, []string{"name", "Column2", "age"}, p.Columns)
	require.Len(t, p.Rows, Rows)
	require.Equal(t, []string{"user0", "x", "20"}, p.Cells(0))
}

func TestParseCSVWithoutHeader(t *testing.T) {
	p, err := Parse(strings.NewReader("1,2\n3\n"), "csv", false)
	require.NoError(t, err)
	require.Equal(t, []string{"Column1", "Column2"}, p.Columns)
	want := []map[string]interface{}{
		{"Column1": "1", "Column2": "2"},
		{"Column1": "3", "Column2": ""},
	}
	if diff := cmp.Diff(want, p.Rows); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
}

func TestParseTooManyColumns(t *testing.T) {
	header := make([]string, 21)
	for i := range header {
		header[i] = fmt.Sprintf("c%d", i)
	}
	_, err := Parse(strings.NewReader(strings.Join(header, ",")+"\n"), "csv", true)
	require.EqualError(t, err, "File exceeds maximum of 20 columns (has 21)")
}

func TestParseJSON(t *testing.T) {
	doc := `[{"zeta": 1, "alpha": {"nested": true}, "mid": "x"},
		{"zeta": 2, "alpha": null, "mid": "y"}]`
	p, err := Parse(strings.NewReader(doc), "json", true)
	require.NoError(t, err)
	require.Equal(t, []string{"zeta", "alpha", "mid"}, p.Columns)
	require.Len(t, p.Rows, 2)
	require.Equal(t, []string{"2", "", "y"}, p.Cells(1))

	p, err = Parse(strings.NewReader(`{"b": 1, "a": 2}`), "json", true)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, p.Columns)
	require.Len(t, p.Rows, 1)

	_, err = Parse(strings.NewReader(`"scalar"`), "json", true)
	require.ErrorContains(t, err, "Invalid JSON format")
	_, err = Parse(strings.NewReader(`[`), "json", true)
	require.ErrorContains(t, err, "Invalid JSON format")
}

func TestParseXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"species", "petal"}))
	for i := 0; i < 7; i++ {
		cell := fmt.Sprintf("A%d", i+2)
		require.NoError(t, f.SetSheetRow(sheet, cell, &[]interface{}{"setosa", 1.4}))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	p, err := Parse(bytes.NewReader(buf.Bytes()), "xlsx", true)
	require.NoError(t, err)
	require.Equal(t, []string{"species", "petal"}, p.Columns)
	require.Len(t, p.Rows, Rows)
	require.Equal(t, []string{"setosa", "1.4"}, p.Cells(4))
}

func TestLegacyExcelHasNoPreview(t *testing.T) {
	_, err := Parse(strings.NewReader(""), "xls", true)
	require.ErrorIs(t, err, ErrNoPreview)
	require.NoError(t, CheckFile("legacy.xls", 100))
}
