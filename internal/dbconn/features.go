package dbconn

// Features centralises the database-major-version dispatch the design
// notes call out (§9 "Two-way version dispatch"): rather than scattering
// `if version >= 120000` checks through clone/follow/promote/switchover,
// every version-sensitive decision is a field on this struct, computed
// once from the reported server version number (the pg_catalog
// convention: 120003 means 12.3; pre-10 used three components, e.g.
// 90624 for 9.6.24 — both forms are handled by For).
type Features struct {
	Version int

	// UsesRecoveryConf is true for versions < 12, where standby
	// configuration lives in a dedicated recovery.conf; false for >= 12,
	// where it is merged into postgresql.auto.conf plus standby.signal.
	UsesRecoveryConf bool

	// HasInSQLPromote is true for versions >= 12, where pg_promote()
	// exists as a SQL-callable promotion function.
	HasInSQLPromote bool

	// ReplayPauseAffectsShutdown is true for versions < 13, where a
	// paused WAL replay can leave outstanding WAL that complicates a
	// clean promotion precondition check (§4.8).
	ReplayPauseAffectsShutdown bool

	// ReplicationConfigOwnerApplies is true for versions >= 12,
	// where the merged postgresql.auto.conf ownership must match the
	// database's running OS user (§4.9 PRECHECK).
	ReplicationConfigOwnerApplies bool

	// WALKeepParam is the GUC name for "how much WAL to retain" —
	// wal_keep_segments pre-13, wal_keep_size from 13 on.
	WALKeepParam string

	// HotStandbyAlwaysOn is true for versions >= 10, where hot_standby
	// defaults to on and the GUC is largely vestigial; kept distinct
	// from the pre-10 case where it must be verified explicitly.
	HotStandbyAlwaysOn bool
}

// For computes the Features table for a reported server version number
// in the pg_catalog "10000*major + minor" convention (pre-10:
// "10000*major + 100*minor + patch").
func For(version int) Features {
	major := normalizeMajor(version)

	f := Features{
		Version:                       version,
		UsesRecoveryConf:              major < 12,
		HasInSQLPromote:               major >= 12,
		ReplayPauseAffectsShutdown:    major < 13,
		ReplicationConfigOwnerApplies: major >= 12,
		HotStandbyAlwaysOn:            major >= 10,
	}
	if major >= 13 {
		f.WALKeepParam = "wal_keep_size"
	} else {
		f.WALKeepParam = "wal_keep_segments"
	}
	return f
}

// normalizeMajor extracts the major version number from a raw
// server_version_num. Versions >= 10 encode major*10000+minor (e.g.
// 140005 = 14.5); versions < 10 encode major*10000+minor*100 (e.g. 90624 =
// 9.6.24) — dividing by 10000 yields the major version either way
// (9 or 14), which is all every dispatch decision in this table needs.
func normalizeMajor(version int) int {
	return version / 10000
}
