package protocol

const (
	// Lookup / validation.
	ErrNotFound   = "E_NOT_FOUND"
	ErrBadRequest = "E_BAD_REQUEST"

	// Ownership and concurrency.
	ErrOwnershipConflict = "E_OWNERSHIP_CONFLICT"
	ErrChecksumConflict  = "E_CHECKSUM_CONFLICT"

	// Move tickets.
	ErrTicketNotFound = "E_TICKET_NOT_FOUND"
	ErrTicketExpired  = "E_TICKET_EXPIRED"
	ErrTicketRedeemed = "E_TICKET_REDEEMED"
	ErrWrongClaimant  = "E_WRONG_CLAIMANT"
	ErrCooldown       = "E_COOLDOWN"

	// Infrastructure.
	ErrStorage  = "E_STORAGE"
	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrNotFound:          {},
	ErrBadRequest:        {},
	ErrOwnershipConflict: {},
	ErrChecksumConflict:  {},
	ErrTicketNotFound:    {},
	ErrTicketExpired:     {},
	ErrTicketRedeemed:    {},
	ErrWrongClaimant:     {},
	ErrCooldown:          {},
	ErrStorage:           {},
	ErrInternal:          {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
