package google

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	gsheet "google.golang.org/api/sheets/v4"
)

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing spreadsheet id")
	}
	if err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	if err := os.WriteFile(file, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		cfg     Config
		envFile string
		want    string
		wantErr string
	}{
		{name: "inline wins", cfg: Config{CredentialsJSON: `{"inline":true}`, CredentialsFile: file}, want: `{"inline":true}`},
		{name: "file", cfg: Config{CredentialsFile: file}, want: `{"type":"service_account"}`},
		{name: "application default", envFile: file, want: `{"type":"service_account"}`},
		{name: "missing file", cfg: Config{CredentialsFile: filepath.Join(dir, "nope.json")}, wantErr: "read service account file"},
		{name: "nothing", wantErr: "missing service account credentials"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", tt.envFile)

			got, err := loadCredentials(tt.cfg)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("loadCredentials() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("loadCredentials() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("loadCredentials() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestExportPeriod_Uninitialized(t *testing.T) {
	c := &Client{spreadsheetID: "test"}
	if _, err := c.ExportPeriod(context.Background(), "u1", "2024-03", nil); err == nil {
		t.Error("ExportPeriod() should fail without a sheets service")
	}
}

func TestQuoteTab(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"u1 2024-03", "'u1 2024-03'"},
		{"o'neil 2024-03", "'o''neil 2024-03'"},
	}
	for _, tt := range tests {
		if got := quoteTab(tt.in); got != tt.want {
			t.Errorf("quoteTab(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasTab(t *testing.T) {
	ss := &gsheet.Spreadsheet{Sheets: []*gsheet.Sheet{
		{Properties: &gsheet.SheetProperties{Title: "u1 2024-02"}},
		{Properties: &gsheet.SheetProperties{Title: "u1 2024-03"}},
	}}
	if !hasTab(ss, "u1 2024-03") {
		t.Error("hasTab() = false for an existing tab")
	}
	if hasTab(ss, "u2 2024-03") {
		t.Error("hasTab() = true for a missing tab")
	}
	if hasTab(nil, "x") {
		t.Error("hasTab(nil) = true")
	}
}

func TestToValues(t *testing.T) {
	got := toValues([][]string{{"a", "b"}, {"c"}})
	want := [][]interface{}{{"a", "b"}, {"c"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("toValues() = %v, want %v", got, want)
	}
}
