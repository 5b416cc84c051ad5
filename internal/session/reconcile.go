package session

// ReconcileOutcome describes what a heartbeat did to the registry.
type ReconcileOutcome string

const (
	// OutcomeRetired means the client reported no live activity while the
	// registry held one; the server-side session was retired immediately.
	OutcomeRetired ReconcileOutcome = "retired"
	// OutcomeRegistered means the client reported a session the registry
	// did not know; it was created as a fresh registration.
	OutcomeRegistered ReconcileOutcome = "registered"
	// OutcomeRefreshed means the reported session was already live and its
	// heartbeat timestamp was updated.
	OutcomeRefreshed ReconcileOutcome = "refreshed"
	// OutcomeIdle means neither side believes a session is live.
	OutcomeIdle ReconcileOutcome = "idle"
)

// ReconcileResult is the registry state returned to the client after a
// heartbeat, for display and drift correction on its side.
type ReconcileResult struct {
	Outcome ReconcileOutcome
	Session *Session // nil when no session is live after reconciliation
}

// Reconcile applies a client-reported liveness observation to the registry.
// The push channel is one-way, so dismissal on the client is only visible
// here, the next time the app runs; this is the primary cleanup path, ahead
// of the TTL sweep. Rules, in priority order:
//
//  1. Client reports no live activity, registry holds one for the device:
//     retire it immediately.
//  2. Client reports a session the registry does not know: treat it as a
//     fresh registration, Pending or Active depending on the credential.
//  3. Client reports the session the registry already holds: refresh its
//     heartbeat timestamp only. A report with no session ID counts as a
//     match; older clients only say "still active".
func (r *Registry) Reconcile(deviceID, sessionID string, clientActive bool, token string) (ReconcileResult, error) {
	if _, ok := r.Device(deviceID); !ok {
		return ReconcileResult{}, ErrUnknownDevice
	}

	if !clientActive {
		if _, retired := r.RetireDevice(deviceID, RetireHeartbeat); retired {
			return ReconcileResult{Outcome: OutcomeRetired}, nil
		}
		return ReconcileResult{Outcome: OutcomeIdle}, nil
	}

	if current, ok := r.ForDevice(deviceID); ok && (sessionID == "" || current.ID == sessionID) {
		r.TouchHeartbeat(current.ID)
		if token != "" {
			if _, err := r.SupplyToken(current.ID, token); err != nil {
				return ReconcileResult{}, err
			}
		}
		refreshed, _ := r.Get(current.ID)
		return ReconcileResult{Outcome: OutcomeRefreshed, Session: &refreshed}, nil
	}

	created, err := r.StartSession(deviceID, sessionID, token)
	if err != nil {
		return ReconcileResult{}, err
	}
	return ReconcileResult{Outcome: OutcomeRegistered, Session: &created}, nil
}
