// Package prerender keeps a bounded pool of hidden, pre-loaded embed
// documents keyed by card id.
//
// Documents are created through a Host capability so the pool can run
// without a rendering environment. HTTPHost fetches embed URLs over HTTP;
// tests supply their own Host.
//
// The pool cap is enforced by a periodic check, not on insert, so the pool
// may briefly hold more than Capacity entries.
package prerender
