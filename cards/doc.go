// Package cards defines the wire types of the cards service and an HTTP
// client for it.
//
// The service exposes four JSON endpoints: a paginated list of a
// collection's cards, a single card, card deletion, and search (which
// creates a card from a natural-language query). Every response is wrapped
// in an envelope of the form {"success": bool, "data": ..., "error": "..."}.
package cards
