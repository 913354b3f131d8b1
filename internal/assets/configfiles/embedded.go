package configfiles

import "embed"

// FS is the embedded copy of the repository's config/ and schemas/ trees,
// used when the binary runs outside a checkout.
//
// It is kept in sync with config/platescan and schemas/platescan by hand.
//
//go:embed config schemas
var FS embed.FS
