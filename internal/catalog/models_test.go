package catalog

import (
	"testing"
	"time"
)

func TestAssetKey(t *testing.T) {
	key := AssetKey("f1", "vacation/img001.jpg")
	if key != "f1:vacation/img001.jpg" {
		t.Errorf("AssetKey() = %q", key)
	}
}

func TestFolderIDFromKey(t *testing.T) {
	tests := []struct {
		key      string
		folderID string
		ok       bool
	}{
		{"f1:img001.jpg", "f1", true},
		{"f1:a/b/c.png", "f1", true},
		{"f1:", "", false},
		{":img.jpg", "", false},
		{"noseparator", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, ok := FolderIDFromKey(tt.key)
			if ok != tt.ok || got != tt.folderID {
				t.Errorf("FolderIDFromKey(%q) = (%q, %v), want (%q, %v)",
					tt.key, got, ok, tt.folderID, tt.ok)
			}
		})
	}
}

func TestOverlayIsZero(t *testing.T) {
	var o Overlay
	if !o.IsZero() {
		t.Error("zero overlay reported non-zero")
	}

	tests := []struct {
		name    string
		overlay Overlay
	}{
		{"status only", Overlay{UploadStatus: UploadSuccess}},
		{"note only", Overlay{UploadNote: "quota exceeded"}},
		{"time only", Overlay{UploadAt: time.Now()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.overlay.IsZero() {
				t.Error("overlay with a set field reported zero")
			}
		})
	}
}
