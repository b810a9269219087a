package resolver

// DefaultIntents returns the built-in intent set. Order matters: ties go to
// the earlier entry, so the specific intents come before the generic chat
// fallback.
func DefaultIntents() []IntentDefinition {
	return []IntentDefinition{
		{
			Name:   "seo_analysis",
			Action: "seo_analysis",
			Cues: []string{
				"seo",
				"search ranking",
				"search engine",
				"rank higher",
				"google ranking",
				"keyword",
			},
		},
		{
			Name:   "website_audit",
			Action: "website_audit",
			Cues: []string{
				"audit",
				"check my website",
				"check my site",
				"review my site",
				"website performance",
				"how is my website",
			},
		},
		{
			Name:   "lead_search",
			Action: "lead_search",
			Cues: []string{
				"leads",
				"find customers",
				"new customers",
				"prospects",
				"potential clients",
			},
		},
		{
			Name:   "search_knowledge",
			Action: "search_knowledge",
			Cues: []string{
				"look up",
				"search for",
				"find information",
				"tell me about",
				"what is",
			},
		},
		{
			Name:   "capabilities",
			Action: "capabilities",
			Cues: []string{
				"what can you do",
				"how can you help",
				"what do you offer",
				"capabilities",
			},
		},
		{
			Name:   "chat",
			Action: "chat",
			Cues: []string{
				"hello",
				"hi ",
				"hey",
				"thanks",
				"thank you",
				"good morning",
				"good afternoon",
			},
		},
	}
}
