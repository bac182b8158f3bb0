// Package suppression maintains the durable registry of addresses that must
// never receive further campaign mail.
//
// Suppression is bounce-driven only: consecutive hard bounces escalate an
// address to suppressed once they reach the configured threshold. Soft
// bounces are counted but never suppress on their own. Once suppressed, an
// entry is terminal and is never un-suppressed automatically.
package suppression
