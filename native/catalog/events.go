package catalog

const (
	// EventTypeProductCreated is emitted the first time a content fingerprint is minted.
	EventTypeProductCreated = "catalog.product.created"
	// EventTypeMinted is emitted for every mint, including supply top-ups.
	EventTypeMinted = "catalog.product.minted"
	// EventTypeListingCreated is emitted when a (tokenId, owner) listing is created.
	EventTypeListingCreated = "catalog.listing.created"
	// EventTypeListingRemoved is emitted when an owner removes a listing.
	EventTypeListingRemoved = "catalog.listing.removed"
	// EventTypeUnitsTransferred is emitted when product units change hands.
	EventTypeUnitsTransferred = "catalog.units.transferred"
)
