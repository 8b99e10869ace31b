package clone

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidateDestinationMissingIsOK(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does-not-exist")
	if err := validateDestination(dir, false); err != nil {
		t.Errorf("missing destination should be fine: %v", err)
	}
}

func TestValidateDestinationEmptyIsOK(t *testing.T) {
	dir := t.TempDir()
	if err := validateDestination(dir, false); err != nil {
		t.Errorf("empty destination should be fine: %v", err)
	}
}

func TestValidateDestinationNonEmptyRefusedWithoutForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PG_VERSION"), []byte("16\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateDestination(dir, false); err == nil {
		t.Fatal("expected an error for a non-empty destination without --force")
	}
}

func TestValidateDestinationNonEmptyAllowedWithForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "PG_VERSION"), []byte("16\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateDestination(dir, true); err != nil {
		t.Errorf("force should allow a non-empty, non-running destination: %v", err)
	}
}

func TestValidateDestinationRunningDatabaseRefusedEvenWithForce(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "postmaster.pid"), []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := validateDestination(dir, true); err == nil {
		t.Fatal("expected an error when postmaster.pid is present, even with --force")
	}
}

func TestParseBackupCatalogListing(t *testing.T) {
	output := "20260101T000000\t140005\t\n20260201T120000\t140005\t16401=/srv/ts1,16402=/srv/ts2\n"
	entry, err := parseBackupCatalogListing(output)
	if err != nil {
		t.Fatalf("parseBackupCatalogListing: %v", err)
	}
	if entry.BackupID != "20260201T120000" {
		t.Errorf("BackupID = %q, want the latest entry", entry.BackupID)
	}
	if entry.Version != 140005 {
		t.Errorf("Version = %d, want 140005", entry.Version)
	}
	if entry.Tablespaces[16401] != "/srv/ts1" || entry.Tablespaces[16402] != "/srv/ts2" {
		t.Errorf("Tablespaces = %+v", entry.Tablespaces)
	}
}

func TestParseBackupCatalogListingEmptyIsError(t *testing.T) {
	if _, err := parseBackupCatalogListing(""); err == nil {
		t.Fatal("expected an error for an empty catalog listing")
	}
}

func TestParseBackupCatalogListingMalformedVersion(t *testing.T) {
	if _, err := parseBackupCatalogListing("backup1\tnot-a-number\t\n"); err == nil {
		t.Fatal("expected an error for a non-numeric version field")
	}
}
