package nodecheck

import "testing"

func TestParseTolerant(t *testing.T) {
	tests := []struct {
		name string
		line string
		key  string
		want string
	}{
		{"normal", "--status=OK --files=3", "status", "OK"},
		{"unknown key kept", "--status=OK --bogus=xyz", "bogus", "xyz"},
		{"bare flag no value", "--status=OK --verbose", "verbose", ""},
		{"empty line", "", "status", ""},
		{"whitespace only", "   ", "status", ""},
		{"non-flag token skipped", "garbage --status=OK", "status", "OK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Parse(tt.line)
			if got := l.Get(tt.key); got != tt.want {
				t.Errorf("Get(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestStatusDefaultsUnknown(t *testing.T) {
	l := Parse("--files=3")
	if got := l.Status("status"); got != StatusUnknown {
		t.Errorf("missing status key = %q, want UNKNOWN", got)
	}
	l2 := Parse("")
	if got := l2.Status("status"); got != StatusUnknown {
		t.Errorf("empty line status = %q, want UNKNOWN", got)
	}
}

func TestShutdownReportRoundTrip(t *testing.T) {
	r := ShutdownReport{State: StateShutdown, LastCheckpointLSN: "0/3000060"}
	got := ParseShutdownReport(r.Render())
	if got != r {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}

func TestShutdownReportMissingStateIsUnknown(t *testing.T) {
	got := ParseShutdownReport("--last-checkpoint-lsn=0/3000060")
	if got.State != StateUnknown {
		t.Errorf("State = %q, want UNKNOWN", got.State)
	}
}

func TestArchiveReportRoundTrip(t *testing.T) {
	line := Render([2]string{"status", "WARNING"}, [2]string{"files", "12"}, [2]string{"threshold", "10"})
	got := ParseArchiveReport(line)
	want := ArchiveReport{Status: StatusWarning, Files: 12, Threshold: 10}
	if got != want {
		t.Errorf("ParseArchiveReport = %+v, want %+v", got, want)
	}
}

func TestArchiveReportWithError(t *testing.T) {
	line := Render([2]string{"status", "CRITICAL"}, [2]string{"error", "DB_CONNECTION"})
	got := ParseArchiveReport(line)
	if got.Status != StatusCritical || got.Error != ErrorDbConnection {
		t.Errorf("got %+v", got)
	}
}

func TestArchiveReportRenderRoundTrip(t *testing.T) {
	r := ArchiveReport{Status: StatusCritical, Files: 40, Threshold: 32}
	got := ParseArchiveReport(r.Render())
	if got != r {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}

func TestConnectionReportRoundTrip(t *testing.T) {
	r := ConnectionReport{Key: "connection", Status: StatusOK}
	got := ParseConnectionReport(r.Render(), "connection")
	if got != r {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}

func TestConnectionReportWithError(t *testing.T) {
	r := ConnectionReport{Key: "db-connection", Status: StatusBad, Error: "UNKNOWN"}
	got := ParseConnectionReport(r.Render(), "db-connection")
	if got != r {
		t.Errorf("round trip = %+v, want %+v", got, r)
	}
}
