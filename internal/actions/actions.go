// Package actions provides the built-in marketing action set. The handlers
// are deterministic template functions, not live analyses: real data sources
// sit behind the same Action boundary and can replace them one by one.
package actions

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/marigold-ai/concierge"
	"github.com/marigold-ai/concierge/internal/adapters"
)

// SetupActions creates and returns a map of all built-in actions.
func SetupActions() map[string]concierge.Action {
	return map[string]concierge.Action{
		"seo_analysis": adapters.NewGoActionAdapter(
			"seo_analysis",
			PerformSEOAnalysis,
			adapters.WithDescription("Analyzes a local business's search visibility."),
			adapters.WithCategory("Marketing"),
			adapters.WithParameters(concierge.ParameterSchema{
				"businessName": {Type: "string", Required: true, Description: "Name of the business"},
				"industry":     {Type: "string", Required: true, Description: "Industry or trade"},
				"location":     {Type: "string", Required: true, Description: "City or service area"},
			}),
			adapters.WithReturns("SEO analysis as text under 'analysis'."),
			adapters.WithExamples([]string{
				"analyze the seo for Apex Plumbing in Denver",
			}),
		),
		"website_audit": adapters.NewGoActionAdapter(
			"website_audit",
			PerformWebsiteAudit,
			adapters.WithDescription("Audits a website for common issues."),
			adapters.WithCategory("Marketing"),
			adapters.WithParameters(concierge.ParameterSchema{
				"websiteUrl": {Type: "string", Required: true, Description: "Site to audit"},
			}),
			adapters.WithReturns("Audit report as text under 'report'."),
			adapters.WithExamples([]string{
				"audit www.example.com",
			}),
			adapters.WithValidator(validateWebsiteAuditInput),
		),
		"lead_search": adapters.NewGoActionAdapter(
			"lead_search",
			PerformLeadSearch,
			adapters.WithDescription("Finds potential customers in an area."),
			adapters.WithCategory("Marketing"),
			adapters.WithParameters(concierge.ParameterSchema{
				"industry": {Type: "string", Required: true, Description: "Industry to prospect in"},
				"location": {Type: "string", Required: true, Description: "Area to search"},
			}),
			adapters.WithReturns("Lead summary as text under 'content'."),
			adapters.WithExamples([]string{
				"find roofing leads in Austin",
			}),
		),
		"search_knowledge": adapters.NewGoActionAdapter(
			"search_knowledge",
			PerformKnowledgeSearch,
			adapters.WithDescription("Answers marketing questions from the knowledge base."),
			adapters.WithCategory("Knowledge"),
			adapters.WithParameters(concierge.ParameterSchema{
				"query": {Type: "string", Required: true, Description: "Question to answer"},
			}),
			adapters.WithReturns("Answer as text under 'response'."),
			adapters.WithExamples([]string{
				"tell me about local citation building",
			}),
			adapters.WithValidator(validateKnowledgeInput),
		),
		"capabilities": adapters.NewGoActionAdapter(
			"capabilities",
			DescribeCapabilities,
			adapters.WithDescription("Describes what the assistant can do."),
			adapters.WithCategory("Meta"),
			adapters.WithReturns("Capability summary as text under 'text'."),
		),
		"chat": adapters.NewGoActionAdapter(
			"chat",
			RespondToChat,
			adapters.WithDescription("Handles greetings and small talk."),
			adapters.WithCategory("Meta"),
			adapters.WithParameters(concierge.ParameterSchema{
				"message": {Type: "string", Required: false, Description: "The user's message"},
			}),
			adapters.WithReturns("Reply as text under 'text'."),
		),
	}
}

// PerformSEOAnalysis produces a template SEO summary for the business.
func PerformSEOAnalysis(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	businessName, _ := input["businessName"].(string)
	industry, _ := input["industry"].(string)
	location, _ := input["location"].(string)
	log.Printf("ACTION: Running SEO analysis (business: %s, industry: %s, location: %s)", businessName, industry, location)

	analysis := fmt.Sprintf(
		"%s shows solid potential in %s %s searches. Your business profile needs more reviews, your homepage is missing the main service keywords, and nearby competitors publish updates more often than you do.",
		businessName, location, industry)

	return map[string]interface{}{"analysis": analysis}, nil
}

// PerformWebsiteAudit produces a template audit report for the site.
func PerformWebsiteAudit(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	websiteUrl, _ := input["websiteUrl"].(string)
	log.Printf("ACTION: Auditing website (url: %s)", websiteUrl)

	report := fmt.Sprintf(
		"Audit of %s: pages load in an acceptable range, several images are missing descriptions, the contact form works, and the site needs a clearer call to action above the fold.",
		websiteUrl)

	return map[string]interface{}{"report": report}, nil
}

// PerformLeadSearch produces a template lead summary for the area.
func PerformLeadSearch(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	industry, _ := input["industry"].(string)
	location, _ := input["location"].(string)
	log.Printf("ACTION: Searching leads (industry: %s, location: %s)", industry, location)

	content := fmt.Sprintf(
		"Found 12 potential %s customers in %s. The strongest matches recently searched for services like yours, and three of them asked for quotes this week.",
		industry, location)

	return map[string]interface{}{
		"content": content,
		"count":   12,
	}, nil
}

// PerformKnowledgeSearch answers from a small fixed knowledge base.
func PerformKnowledgeSearch(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	query, _ := input["query"].(string)
	log.Printf("ACTION: Knowledge search (query: %s)", query)

	response := fmt.Sprintf(
		"Here's what I know related to %q: consistent business listings, steady reviews, and locally relevant content are the three levers that move small-business visibility the most.",
		query)

	return map[string]interface{}{"response": response}, nil
}

// DescribeCapabilities lists what the assistant can do.
func DescribeCapabilities(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	text := "I can analyze your SEO, audit your website, find leads in your area, and answer marketing questions. Tell me about your business and I'll point you at the biggest win first."
	return map[string]interface{}{"text": text}, nil
}

// RespondToChat handles greetings and anything that resolved to small talk.
func RespondToChat(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	message, _ := input["message"].(string)

	text := "Hi! I'm your marketing assistant. Ask me about SEO, your website, or finding new customers."
	if strings.Contains(strings.ToLower(message), "thank") {
		text = "You're welcome! Anything else I can look at for you?"
	}

	return map[string]interface{}{"text": text}, nil
}

// Validator functions for actions

// validateWebsiteAuditInput validates the input for the website audit.
func validateWebsiteAuditInput(input map[string]interface{}) error {
	url, ok := input["websiteUrl"]
	if !ok {
		return fmt.Errorf("missing website url (expected at key 'websiteUrl')")
	}

	urlStr, ok := url.(string)
	if !ok {
		return fmt.Errorf("website url must be a string, got %T", url)
	}

	if len(urlStr) == 0 {
		return fmt.Errorf("website url cannot be empty")
	}

	if strings.ContainsAny(urlStr, " \t\n") {
		return fmt.Errorf("website url cannot contain whitespace")
	}

	return nil
}

// validateKnowledgeInput validates the input for the knowledge search.
func validateKnowledgeInput(input map[string]interface{}) error {
	query, ok := input["query"]
	if !ok {
		return fmt.Errorf("missing query (expected at key 'query')")
	}

	queryStr, ok := query.(string)
	if !ok {
		return fmt.Errorf("query must be a string, got %T", query)
	}

	if len(queryStr) == 0 {
		return fmt.Errorf("query cannot be empty")
	}

	if len(queryStr) > 1000 {
		return fmt.Errorf("query too long (max 1000 characters)")
	}

	return nil
}
