// Copyright 2026 The Carton Authors
// SPDX-License-Identifier: Apache-2.0

package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/carton-foundation/carton/lib/contenthash"
	"github.com/carton-foundation/carton/lib/parcel"
)

// stageFixture builds a two-parcel manifest plus a sources map
// pointing at real files in a temp source dir.
func stageFixture(t *testing.T) (*parcel.Manifest, map[string]string) {
	t.Helper()
	sourceDir := t.TempDir()
	sources := make(map[string]string)

	m := &parcel.Manifest{
		ManifestVersion: parcel.ManifestVersion,
		Package:         parcel.PackageInfo{Name: "weather", Version: "1.2.3"},
		Groups:          []parcel.Group{{Name: "app", Required: true}},
	}
	for name, content := range map[string]string{"a.wasm": "module a", "b.wasm": "module b"} {
		path := filepath.Join(sourceDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		sha := contenthash.HashBytes([]byte(content)).String()
		sources[sha] = path
		m.Parcels = append(m.Parcels, parcel.Parcel{
			Label:      parcel.Label{SHA256: sha, Name: name, MediaType: "application/wasm", Size: int64(len(content))},
			Conditions: &parcel.Conditions{MemberOf: []string{"app"}},
		})
	}
	m.Normalize()
	return m, sources
}

func TestWriteProducesCompleteLayout(t *testing.T) {
	m, sources := stageFixture(t)
	destDir := t.TempDir()

	if err := Write(context.Background(), m, sources, destDir, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}

	staged, err := ReadManifest(destDir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if staged.Identity() != m.Identity() {
		t.Errorf("staged identity = %s", staged.Identity())
	}

	for _, p := range m.Parcels {
		data, err := os.ReadFile(ParcelPath(destDir, p.Label.SHA256))
		if err != nil {
			t.Fatalf("parcel %s not staged: %v", p.Label.SHA256, err)
		}
		if contenthash.HashBytes(data).String() != p.Label.SHA256 {
			t.Errorf("staged parcel %s does not match its hash", p.Label.SHA256)
		}
	}

	// No temp files left behind.
	entries, err := os.ReadDir(destDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != ManifestFileName && entry.Name() != ParcelDirName {
			t.Errorf("unexpected entry in staging dir: %s", entry.Name())
		}
	}
}

func TestWriteReusesExistingParcels(t *testing.T) {
	m, sources := stageFixture(t)
	destDir := t.TempDir()
	if err := Write(context.Background(), m, sources, destDir, nil); err != nil {
		t.Fatalf("first Write: %v", err)
	}

	// Mark an existing parcel file so a rewrite would be visible.
	marker := ParcelPath(destDir, m.Parcels[0].Label.SHA256)
	info, err := os.Stat(marker)
	if err != nil {
		t.Fatal(err)
	}
	modTime := info.ModTime()

	if err := Write(context.Background(), m, sources, destDir, nil); err != nil {
		t.Fatalf("second Write: %v", err)
	}
	info, err = os.Stat(marker)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(modTime) {
		t.Error("existing content-addressed parcel was rewritten")
	}
}

func TestWriteLeavesUnrelatedFilesAlone(t *testing.T) {
	m, sources := stageFixture(t)
	destDir := t.TempDir()
	stray := filepath.Join(destDir, "notes.txt")
	if err := os.WriteFile(stray, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Write(context.Background(), m, sources, destDir, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := os.Stat(stray); err != nil {
		t.Error("unrelated file removed from staging dir")
	}
}

func TestWriteAbortsBeforeManifestOnCopyFailure(t *testing.T) {
	m, sources := stageFixture(t)
	destDir := t.TempDir()

	// Break the second parcel's source. Parcels are written in
	// manifest order, so the first copy may succeed; the manifest
	// must not exist afterward.
	delete(sources, m.Parcels[1].Label.SHA256)

	if err := Write(context.Background(), m, sources, destDir, nil); err == nil {
		t.Fatal("Write succeeded with a missing parcel source")
	}
	if _, err := os.Stat(ManifestPath(destDir)); !os.IsNotExist(err) {
		t.Error("manifest document written despite a failed parcel copy")
	}
}

func TestWriteUnreadableSource(t *testing.T) {
	m, sources := stageFixture(t)
	destDir := t.TempDir()
	sha := m.Parcels[0].Label.SHA256
	sources[sha] = filepath.Join(t.TempDir(), "gone.dat")

	if err := Write(context.Background(), m, sources, destDir, nil); err == nil {
		t.Fatal("Write succeeded with an unreadable parcel source")
	}
	if _, err := os.Stat(ManifestPath(destDir)); !os.IsNotExist(err) {
		t.Error("manifest document written despite a failed parcel copy")
	}
}

func TestReadManifestIncompleteDirectory(t *testing.T) {
	// A directory with parcels but no manifest is an aborted run, not
	// a package.
	if _, err := ReadManifest(t.TempDir()); err == nil {
		t.Error("ReadManifest succeeded on a manifest-less directory")
	}
}

func TestDefaultDirIsUniquePerRun(t *testing.T) {
	first, err := DefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(first)
	second, err := DefaultDir()
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(second)
	if first == second {
		t.Error("two runs share a default staging directory")
	}
}
