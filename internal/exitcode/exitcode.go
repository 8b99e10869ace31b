// Package exitcode maps rmerrors.Kind values to the process exit codes
// documented in spec §6.
package exitcode

import "github.com/repmgr-go/repmgr/internal/rmerrors"

const (
	OK                      = 0
	BadConfig               = 1
	SSHFailure              = 6
	BadBaseBackup           = 7
	PromotionFailure        = 8
	DBConnFailure           = 9
	DBQueryFailure          = 10
	SwitchoverFailure       = 16
	SwitchoverIncomplete    = 24
	FollowFailure           = 25
	RegistrationSyncFailure = 26
	NoRestartFailure        = 27
	RsyncFailure            = 28
	CatalogBackupFailure    = 29
	OutOfMemory             = 31
	InternalError           = 32
)

// ForKind returns the exit code matching a categorical error Kind. It is
// the single place a Kind turns into a process-visible number, per the
// design note to centralise version/variant dispatch rather than
// scattering it across commands.
func ForKind(kind rmerrors.Kind) int {
	switch kind {
	case rmerrors.KindConfig, rmerrors.KindCatalogNotFound:
		return BadConfig
	case rmerrors.KindTransport:
		return SSHFailure
	case rmerrors.KindDbConn:
		return DBConnFailure
	case rmerrors.KindDbQuery:
		return DBQueryFailure
	case rmerrors.KindPromotion:
		return PromotionFailure
	case rmerrors.KindFollow:
		return FollowFailure
	case rmerrors.KindSwitchoverFail:
		return SwitchoverFailure
	case rmerrors.KindSwitchoverIncomplete:
		return SwitchoverIncomplete
	case rmerrors.KindBackup:
		return BadBaseBackup
	case rmerrors.KindRegisterSync:
		return RegistrationSyncFailure
	case rmerrors.KindNoRestart:
		return NoRestartFailure
	case rmerrors.KindRsync:
		return RsyncFailure
	case rmerrors.KindCatalogBackup:
		return CatalogBackupFailure
	case rmerrors.KindOutOfMemory:
		return OutOfMemory
	default:
		return InternalError
	}
}

// ForErr is a convenience wrapper around ForKind(rmerrors.KindOf(err)).
func ForErr(err error) int {
	if err == nil {
		return OK
	}
	return ForKind(rmerrors.KindOf(err))
}
