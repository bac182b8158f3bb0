// Package campaign implements campaign lifecycle management.
//
// The service owns the campaign state machine
// (draft → scheduled → sending → {completed | paused | cancelled}) and the
// denormalized counter cache. It depends on the Repository interface defined
// in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package campaign
