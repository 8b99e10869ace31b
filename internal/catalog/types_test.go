package catalog

import "testing"

func TestSlotNameForNode(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{1, "repmgr_slot_1"},
		{42, "repmgr_slot_42"},
	}
	for _, tt := range tests {
		if got := SlotNameForNode(tt.id); got != tt.want {
			t.Errorf("SlotNameForNode(%d) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestNodeRecordEqual(t *testing.T) {
	base := NodeRecord{
		NodeID: 3, NodeName: "node3", Type: Standby, UpstreamNodeID: 1,
		ConnInfo: "host=node3", ReplUser: "repmgr", SlotName: "repmgr_slot_3",
		Priority: 100, Location: "dc1", Active: true,
	}

	t.Run("identical copy", func(t *testing.T) {
		if !base.Equal(base) {
			t.Error("a record should equal itself")
		}
	})

	t.Run("config_file and data_directory excluded from comparison", func(t *testing.T) {
		other := base
		other.ConfigFile = "/etc/repmgr/repmgr.conf"
		other.DataDirectory = "/var/lib/postgresql/data"
		if !base.Equal(other) {
			t.Error("config_file/data_directory are host-local and not catalog-compared")
		}
	})

	t.Run("differing upstream", func(t *testing.T) {
		other := base
		other.UpstreamNodeID = 2
		if base.Equal(other) {
			t.Error("differing upstream_node_id should not be equal")
		}
	})

	t.Run("differing active flag", func(t *testing.T) {
		other := base
		other.Active = false
		if base.Equal(other) {
			t.Error("differing active should not be equal")
		}
	})
}

func TestNodeIDFromSlotName(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"repmgr_slot_7", 7},
		{"repmgr_slot_123", 123},
		{"some_other_slot", 0},
		{"repmgr_slot_notanumber", 0},
	}
	for _, tt := range tests {
		if got := nodeIDFromSlotName(tt.name); got != tt.want {
			t.Errorf("nodeIDFromSlotName(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}
