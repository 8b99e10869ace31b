package connstring

import "testing"

func TestParseRenderRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"simple", "host=node1 port=5432 user=repmgr dbname=repmgr"},
		{"quoted value with space", "host=node1 application_name='my app'"},
		{"escaped quote", `host=node1 password='o\'brien'`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			p2, err := Parse(p.Render())
			if err != nil {
				t.Fatalf("Parse(Render()) error: %v", err)
			}
			if !p.Equal(p2) {
				t.Errorf("round trip mismatch: %q -> %q", tt.in, p.Render())
			}
		})
	}
}

func TestSetDeleteGet(t *testing.T) {
	p, err := Parse("host=node1 dbname=repmgr replication=database")
	if err != nil {
		t.Fatal(err)
	}
	p.Delete("dbname")
	p.Delete("replication")
	p.Set("application_name", "node2")

	if _, ok := p.Get("dbname"); ok {
		t.Error("dbname should have been deleted")
	}
	if v, ok := p.Get("application_name"); !ok || v != "node2" {
		t.Errorf("application_name = %q, %v", v, ok)
	}
	if got, want := p.Len(), 2; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestRenderEmptyValue(t *testing.T) {
	p := New()
	p.Set("dbname", "")
	if got, want := p.Render(), "dbname=''"; got != want {
		t.Errorf("Render() = %q, want %q", got, want)
	}
}

func TestRenderDeterministic(t *testing.T) {
	p, err := Parse("user=repmgr host=node1 port=5432")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := p.Render(), "user=repmgr host=node1 port=5432"; got != want {
		t.Errorf("Render() = %q, want %q (insertion order preserved)", got, want)
	}
}
