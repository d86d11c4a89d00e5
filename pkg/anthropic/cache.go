package anthropic

// CachedSystem builds a single system block with a cache breakpoint. The
// drafting instructions are identical across every page of a batch, so
// later requests read them from the prompt cache.
func CachedSystem(text, ttl string) []SystemBlock {
	if text == "" {
		return nil
	}
	if ttl == "" {
		ttl = "5m"
	}
	return []SystemBlock{{Text: text, CacheControl: &CacheControl{TTL: ttl}}}
}
