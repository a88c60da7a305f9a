package anthropic

// BuildCachedSystemBlocks returns text as a single system block with a
// 5-minute cache breakpoint. The research instructions are identical for
// every page of a campaign, so successive calls read them from the cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
