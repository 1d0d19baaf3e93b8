package pipeline

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestUnion(t *testing.T) {
	tests := []struct {
		name     string
		ordered  []string
		defaults []string
		want     []string
	}{
		{
			name:     "ordered files come first",
			ordered:  []string{"pages/home.html"},
			defaults: []string{"pages/about.html", "pages/home.html"},
			want:     []string{"pages/home.html", "pages/about.html"},
		},
		{
			name:     "no ordered list",
			ordered:  nil,
			defaults: []string{"a", "b"},
			want:     []string{"a", "b"},
		},
		{
			name:     "duplicates appear once",
			ordered:  []string{"a", "a", "b"},
			defaults: []string{"b", "c", "c"},
			want:     []string{"a", "b", "c"},
		},
		{
			name:     "empty entries are dropped",
			ordered:  []string{"", "a"},
			defaults: []string{"b", ""},
			want:     []string{"a", "b"},
		},
		{
			name:     "both empty",
			ordered:  nil,
			defaults: nil,
			want:     []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Union(tt.ordered, tt.defaults); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadFileList(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "default")
	err := os.WriteFile(name, []byte("pages/home.html\n\n  pages/about.html  \n"), 0o644)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}

	got, err := readFileList(name)
	if err != nil {
		t.Fatalf("didn't want %v", err)
	}
	if want := []string{"pages/home.html", "pages/about.html"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestLastLine(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{name: "single line", out: "error: no such task\n", want: "error: no such task"},
		{name: "multiple lines", out: "warn: slow\nerror: no such task", want: "error: no such task"},
		{name: "empty", out: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastLine([]byte(tt.out)); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
