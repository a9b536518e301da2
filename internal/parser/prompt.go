package parser

import "fmt"

// buildPrompt asks for a bare JSON array so the response can be decoded
// without provider-specific response formats. Content is truncated to
// keep within provider token limits.
func buildPrompt(content, bankName string, limit int) string {
	if limit > 0 && len(content) > limit {
		content = content[:limit]
	}

	return fmt.Sprintf(`Extract credit card information from the following content for %s.

Please extract the following information for each credit card and return as JSON:
- name: Credit card name
- annual_fee: Annual fee (numeric value, 0 if free, null if not stated)
- interest_rate_apr: Interest rate APR (percentage, null if not stated)
- lounge_access_international: Number of international lounge visits
- lounge_access_domestic: Number of domestic lounge visits
- lounge_access_condition: Conditions attached to lounge access
- cash_advance_fee: Cash advance fee description
- late_payment_fee: Late payment fee description
- annual_fee_waiver_policy: Annual fee waiver conditions (JSON object)
- reward_points_policy: Reward points policy description
- additional_features: List of additional features

Return the data as a JSON array of credit card objects. If no credit card data is found, return an empty array. Use null for any value that is not stated in the content; never guess.

Content to analyze:
%s`, bankName, content)
}
