// Package domain contains the core business entities of the operation
// engine: operations with their status machine, items of the
// media-collection tree, and the typed extras documents operations
// carry. It is independent of any specific storage or delivery
// mechanism.
package domain
