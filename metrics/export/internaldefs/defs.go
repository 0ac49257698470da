package internaldefs

import (
	goAdmin "github.com/MrEthical07/goAdmin"
)

// CounterDef names one Engine counter for exporters.
//
// Name is the flat Prometheus name. Family and Outcome place the counter
// in a labeled family for exporters that group related counters into one
// instrument.
type CounterDef struct {
	ID      goAdmin.MetricID
	Name    string
	Help    string
	Family  string
	Outcome string
}

// FamilyDef describes one counter family.
type FamilyDef struct {
	Name string
	Help string
}

// HistogramDef names one Engine latency histogram for exporters.
type HistogramDef struct {
	ID     goAdmin.MetricID
	Name   string
	Help   string
	Family string
}

// FamilyDefs lists every counter family in render order.
var FamilyDefs = []FamilyDef{
	{Name: "admin_create", Help: "Admin user creation attempts by outcome."},
	{Name: "admin_state", Help: "Admin account state transitions."},
	{Name: "password_change", Help: "Password changes by outcome."},
	{Name: "password_set", Help: "Passwords set without the old password."},
	{Name: "reset_token", Help: "Password reset token lifecycle events."},
	{Name: "reset_redeem", Help: "Password reset redemptions by outcome."},
	{Name: "token_issue", Help: "Password grants by outcome."},
	{Name: "token_validate", Help: "Access token rejections by reason."},
	{Name: "notification", Help: "Notification intents handed to the mail transport."},
	{Name: "activation", Help: "Activation tokens confirmed."},
	{Name: "organization", Help: "Organization lifecycle events."},
}

// CounterDefs lists every exported counter in render order.
var CounterDefs = []CounterDef{
	{ID: goAdmin.MetricAdminCreateSuccess, Name: "goadmin_admin_create_success_total", Help: "Admin users created.", Family: "admin_create", Outcome: "success"},
	{ID: goAdmin.MetricAdminCreateConflict, Name: "goadmin_admin_create_conflict_total", Help: "Admin creations rejected for a taken username or email.", Family: "admin_create", Outcome: "conflict"},
	{ID: goAdmin.MetricAdminCreateFailure, Name: "goadmin_admin_create_failure_total", Help: "Admin creations that failed for any other reason.", Family: "admin_create", Outcome: "failure"},
	{ID: goAdmin.MetricAdminStateChange, Name: "goadmin_admin_state_change_total", Help: "Admin account state transitions.", Family: "admin_state", Outcome: "changed"},
	{ID: goAdmin.MetricPasswordChangeSuccess, Name: "goadmin_password_change_success_total", Help: "Successful password changes.", Family: "password_change", Outcome: "success"},
	{ID: goAdmin.MetricPasswordChangeInvalidOld, Name: "goadmin_password_change_invalid_old_total", Help: "Password changes with a wrong old password.", Family: "password_change", Outcome: "invalid_old"},
	{ID: goAdmin.MetricPasswordChangeReuseRejected, Name: "goadmin_password_change_reuse_rejected_total", Help: "Password writes rejected by the history window.", Family: "password_change", Outcome: "reuse_rejected"},
	{ID: goAdmin.MetricPasswordSetSuccess, Name: "goadmin_password_set_success_total", Help: "Passwords set without the old password.", Family: "password_set", Outcome: "success"},
	{ID: goAdmin.MetricResetTokenIssued, Name: "goadmin_reset_token_issued_total", Help: "Password reset tokens issued.", Family: "reset_token", Outcome: "issued"},
	{ID: goAdmin.MetricResetTokenRevoked, Name: "goadmin_reset_token_revoked_total", Help: "Outstanding reset tokens revoked.", Family: "reset_token", Outcome: "revoked"},
	{ID: goAdmin.MetricResetRedeemSuccess, Name: "goadmin_reset_redeem_success_total", Help: "Reset tokens redeemed.", Family: "reset_redeem", Outcome: "success"},
	{ID: goAdmin.MetricResetRedeemFailure, Name: "goadmin_reset_redeem_failure_total", Help: "Reset token redemptions that failed.", Family: "reset_redeem", Outcome: "failure"},
	{ID: goAdmin.MetricResetReplayRejected, Name: "goadmin_reset_replay_rejected_total", Help: "Reset tokens presented again after use.", Family: "reset_redeem", Outcome: "replay_rejected"},
	{ID: goAdmin.MetricTokenIssueSuccess, Name: "goadmin_token_issue_success_total", Help: "Access tokens issued.", Family: "token_issue", Outcome: "success"},
	{ID: goAdmin.MetricTokenIssueFailure, Name: "goadmin_token_issue_failure_total", Help: "Password grants rejected.", Family: "token_issue", Outcome: "failure"},
	{ID: goAdmin.MetricTokenValidateFailure, Name: "goadmin_token_validate_failure_total", Help: "Access tokens rejected on validation.", Family: "token_validate", Outcome: "invalid"},
	{ID: goAdmin.MetricTokenStaleRejected, Name: "goadmin_token_stale_rejected_total", Help: "Access tokens rejected because the password changed after issuance.", Family: "token_validate", Outcome: "stale"},
	{ID: goAdmin.MetricActivationSent, Name: "goadmin_activation_sent_total", Help: "Activation intents delivered to the mail transport.", Family: "notification", Outcome: "activation_sent"},
	{ID: goAdmin.MetricReactivationSent, Name: "goadmin_reactivation_sent_total", Help: "Reactivation intents delivered to the mail transport.", Family: "notification", Outcome: "reactivation_sent"},
	{ID: goAdmin.MetricActivationConfirmed, Name: "goadmin_activation_confirmed_total", Help: "Activation tokens confirmed.", Family: "activation", Outcome: "confirmed"},
	{ID: goAdmin.MetricNotificationFailure, Name: "goadmin_notification_failure_total", Help: "Notification intents the mail transport refused.", Family: "notification", Outcome: "failure"},
	{ID: goAdmin.MetricOrganizationCreated, Name: "goadmin_organization_created_total", Help: "Organizations created.", Family: "organization", Outcome: "created"},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goAdmin.MetricTokenIssueLatency, Name: "goadmin_token_issue_latency_seconds", Help: "Password grant latency histogram.", Family: "token_issue"},
	{ID: goAdmin.MetricValidateLatency, Name: "goadmin_validate_latency_seconds", Help: "Access token validation latency histogram.", Family: "token_validate"},
}

// HistogramBounds are the bucket labels in Prometheus text form.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The
// overflow bucket has no entry.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling or
// truncating as needed.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
