package report

import (
	"io"
	"strconv"
	"testing"

	"siv/compare"
)

func benchmarkDoc(n int) *Document {
	changes := make([]compare.Change, 0, n)
	for i := 0; i < n; i++ {
		changes = append(changes, compare.Change{
			Type: compare.Modified,
			Path: "/data/file-" + strconv.Itoa(i),
			Fields: map[string]compare.FieldChange{
				compare.FieldDigest:     {Old: "2cf24dba5fb0a30e26e83b2ac5b9e29e", New: "0cc175b9c0f1b6a831c399e269772661"},
				compare.FieldModifiedAt: {Old: "2025-01-01T00:00:00Z", New: "2025-01-02T00:00:00Z"},
			},
		})
	}
	summary := compare.Summarize(changes)
	return &Document{Metrics: Metrics{Mode: "verify", Summary: &summary}, Changes: changes}
}

func BenchmarkRender(b *testing.B) {
	doc := benchmarkDoc(1000)
	for _, format := range []string{"text", "json", "csv"} {
		b.Run(format, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if err := Render(io.Discard, format, doc); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
