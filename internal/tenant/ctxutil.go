package tenant

import "context"

// With stores the store identifier into the provided context.
func With(ctx context.Context, id string) context.Context {
	return WithStore(ctx, id)
}

// From exposes the store identifier retrieval helper.
func From(ctx context.Context) (string, bool) {
	return FromContext(ctx)
}

// PrefixKey creates a namespaced cache/queue key per store slug or id.
func PrefixKey(storeSlugOrID, key string) string {
	if storeSlugOrID == "" {
		return key
	}
	return storeSlugOrID + ":" + key
}
