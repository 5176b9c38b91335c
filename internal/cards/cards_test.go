package cards

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kioku/internal/kioku"
)

const validCard = `{"id":"c1","front":"犬","back":"dog"}`

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"valid", validCard, false},
		{"empty", "", true},
		{"too short", `{"id":"a"}`, true},
		{"not json", "this is not json at all", true},
		{"json array", `["id","c1","front","back"]`, true},
		{"missing id", `{"front":"犬","back":"dog"}`, true},
		{"numeric id", `{"id":12345,"front":"x"}`, true},
		{"empty id", `{"id":"","front":"xxxx"}`, true},
		{"truncated", `{"id":"c1","front":"犬","ba`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate([]byte(tt.data), "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, kioku.ErrPlaceholderCard) {
				t.Errorf("error = %v, want ErrPlaceholderCard", err)
			}
		})
	}
}

func TestValidateExpectedID(t *testing.T) {
	if err := Validate([]byte(validCard), "c1"); err != nil {
		t.Errorf("Validate(matching id) error = %v", err)
	}
	err := Validate([]byte(validCard), "c2")
	if !errors.Is(err, kioku.ErrMalformedRecord) {
		t.Errorf("Validate(other id) error = %v, want ErrMalformedRecord", err)
	}

	deck := t.TempDir()
	r := NewRepository(nil, nil)
	if err := r.Write(deck, "c2", kioku.CardRecord{ID: "c2", Data: []byte(validCard)}); err == nil {
		t.Error("Write() stored a document under another id")
	}
	if _, err := os.Stat(Path(deck, "c2")); !os.IsNotExist(err) {
		t.Error("mismatched card was written to disk")
	}
}

func TestWriteReadDelete(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository(nil, nil)

	if err := r.Write(deck, "c1", kioku.CardRecord{ID: "c1", Data: []byte(validCard)}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	rec, err := r.Read(deck, "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if rec.ID != "c1" || string(rec.Data) != validCard {
		t.Errorf("Read() = %+v", rec)
	}

	if err := r.Delete(deck, "c1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Delete(deck, "c1"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if _, err := r.Read(deck, "c1"); !errors.Is(err, kioku.ErrNotFound) {
		t.Errorf("Read() after delete error = %v, want ErrNotFound", err)
	}
}

func TestWriteRefusesPlaceholder(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository(nil, nil)

	err := r.Write(deck, "c1", kioku.CardRecord{ID: "c1", Data: nil})
	if !errors.Is(err, kioku.ErrPlaceholderCard) {
		t.Errorf("Write() error = %v, want ErrPlaceholderCard", err)
	}
	if _, err := os.Stat(Path(deck, "c1")); !os.IsNotExist(err) {
		t.Errorf("placeholder was written to disk")
	}
}

func TestReadPlaceholder(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository(nil, nil)

	if err := os.MkdirAll(filepath.Join(deck, kioku.CardsDir), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(deck, "c1"), nil, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := r.Read(deck, "c1")
	if !errors.Is(err, kioku.ErrPlaceholderCard) {
		t.Errorf("Read() error = %v, want ErrPlaceholderCard", err)
	}
}

func TestReadRecoversFromBackup(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository([]string{"missing.bak", DefaultBackupDir}, nil)

	if err := os.MkdirAll(filepath.Join(deck, kioku.CardsDir), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(deck, "c1"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	backup := filepath.Join(deck, DefaultBackupDir, "c1.json")
	if err := os.MkdirAll(filepath.Dir(backup), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(backup, []byte(validCard), 0644); err != nil {
		t.Fatal(err)
	}

	rec, err := r.Read(deck, "c1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(rec.Data) != validCard {
		t.Errorf("Read() data = %q", rec.Data)
	}

	restored, err := os.ReadFile(Path(deck, "c1"))
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != validCard {
		t.Errorf("primary file not restored: %q", restored)
	}
}

func TestRecoverIgnoresInvalidBackups(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository(nil, nil)

	backup := filepath.Join(deck, DefaultBackupDir, "c1.json")
	if err := os.MkdirAll(filepath.Dir(backup), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(backup, []byte("short"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Recover(deck, "c1"); !errors.Is(err, kioku.ErrNotFound) {
		t.Errorf("Recover() error = %v, want ErrNotFound", err)
	}
}

func TestRejectsPathIDs(t *testing.T) {
	deck := t.TempDir()
	r := NewRepository(nil, nil)

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := r.Read(deck, id); err == nil {
			t.Errorf("Read(%q) succeeded, want error", id)
		}
	}
}
