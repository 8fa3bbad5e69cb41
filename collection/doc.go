// Package collection drives the browsing of one card collection.
//
// A Controller turns {collection, page, page size, search} into visible
// state. Primary fetches read through the results cache, then the preload
// page store, then the Source. Prefetches of the next page consult only
// the preload page store, run at low priority with a timeout, and never
// touch visible state. At most one prefetch is in flight; starting another
// cancels it.
//
// Cards added with AddCard are kept in an overlay that is merged into every
// page-1 result, so a stale cached page can never hide them. An overlay
// entry is dropped once a network result contains it.
package collection
