package document

import (
	"errors"
	"testing"
)

func TestDocumentValidate(t *testing.T) {
	t.Parallel()

	valid := Document{
		ID:      "pub-001",
		Content: "Microgravity induces bone density loss in mice.",
		Metadata: Metadata{
			Title:      "Bone loss in murine spaceflight models",
			SourceType: SourcePublication,
		},
	}

	tests := []struct {
		name    string
		mutate  func(*Document)
		wantErr error
	}{
		{
			name:   "valid publication",
			mutate: func(*Document) {},
		},
		{
			name:    "missing id",
			mutate:  func(d *Document) { d.ID = "" },
			wantErr: ErrMissingID,
		},
		{
			name:    "missing content",
			mutate:  func(d *Document) { d.Content = "" },
			wantErr: ErrMissingContent,
		},
		{
			name:    "missing title",
			mutate:  func(d *Document) { d.Metadata.Title = "" },
			wantErr: ErrMissingTitle,
		},
		{
			name:    "unknown source type",
			mutate:  func(d *Document) { d.Metadata.SourceType = "blog" },
			wantErr: ErrInvalidSourceType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			doc := valid
			tt.mutate(&doc)

			err := doc.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSourceTypeValid(t *testing.T) {
	t.Parallel()

	for _, st := range []SourceType{SourcePublication, SourceDataset, SourceProject} {
		if !st.Valid() {
			t.Errorf("SourceType(%q).Valid() = false, want true", st)
		}
	}
	if SourceType("wiki").Valid() {
		t.Error(`SourceType("wiki").Valid() = true, want false`)
	}
}

func TestMetadataFilterable(t *testing.T) {
	t.Parallel()

	m := Metadata{
		Title:      "OSD-48 rodent research",
		SourceType: SourceDataset,
		Organism:   "mouse",
		Mission:    "ISS",
	}

	got := m.Filterable()
	want := map[string]string{
		"organism":    "mouse",
		"mission":     "ISS",
		"source_type": "dataset",
	}
	if len(got) != len(want) {
		t.Fatalf("Filterable() has %d keys, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Filterable()[%q] = %q, want %q", k, got[k], v)
		}
	}
}
