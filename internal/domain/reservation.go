package domain

import "time"

// FinalizeTimeout bounds the Commit or Release that ends a reservation. It
// applies even after the run context is cancelled so a confirmed publish is
// still recorded. A reservation lease must outlast one publish plus this.
const FinalizeTimeout = 5 * time.Second

// Reservation is a provisional claim on the right to deliver a product id.
// Token identifies the claimant so only the owner can commit or release it.
type Reservation struct {
	ID    string
	Token string
}
