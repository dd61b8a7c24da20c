// Package audit records security-relevant events of the service as one
// structured line per event.
//
// Events cover logins, token renewals, rate-limited clients and
// configuration reloads. Credentials never enter an event: the caller passes
// the subject name and a reason, and metadata keys listed in RedactFields
// are masked before the event is written.
//
//	logger, err := audit.NewLogger(&audit.Config{Enabled: true})
//	if err != nil {
//	    return err
//	}
//	logger.LogEvent(ctx, audit.AuthenticationEvent(audit.ActionLogin, audit.OutcomeSuccess, "watermark"))
package audit
