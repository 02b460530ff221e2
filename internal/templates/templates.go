// Package templates renders warning letters and official infringement
// reports from built-in templates using {{variable}} substitution.
package templates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/imageguard/guardian/internal/models"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

// Render substitutes {{name}} placeholders from vars. Unresolved variables
// render as "[missing name]" rather than failing: a letter with a gap is
// reviewable, a hard error is not.
func Render(tmpl string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return fmt.Sprintf("[missing %s]", name)
	})
}

// Variables lists the distinct placeholder names in a template, in order of
// first appearance.
func Variables(tmpl string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// LetterTemplate is a built-in warning letter at one escalation level.
type LetterTemplate struct {
	ID      string
	Level   models.WarningLevel
	Subject string
	Body    string
}

// ReportTemplate is a built-in platform infringement report body.
type ReportTemplate struct {
	ID   string
	Type models.ReportType
	Body string
}

// LetterForLevel returns the built-in template for an escalation level.
func LetterForLevel(level models.WarningLevel) (LetterTemplate, error) {
	for _, t := range letterTemplates {
		if t.Level == level {
			return t, nil
		}
	}
	return LetterTemplate{}, fmt.Errorf("no letter template for level %q", level)
}

// ReportForType returns the built-in template for a report type.
func ReportForType(rt models.ReportType) (ReportTemplate, error) {
	for _, t := range reportTemplates {
		if t.Type == rt {
			return t, nil
		}
	}
	return ReportTemplate{}, fmt.Errorf("no report template for type %q", rt)
}

// Letters returns all built-in letter templates.
func Letters() []LetterTemplate {
	out := make([]LetterTemplate, len(letterTemplates))
	copy(out, letterTemplates)
	return out
}

// Reports returns all built-in report templates.
func Reports() []ReportTemplate {
	out := make([]ReportTemplate, len(reportTemplates))
	copy(out, reportTemplates)
	return out
}

var letterTemplates = []LetterTemplate{
	{
		ID:      "letter-friendly-v1",
		Level:   models.WarningFriendly,
		Subject: "Regarding product images in your listing {{listing_title}}",
		Body: strings.TrimSpace(`
Dear {{seller_name}},

We noticed that your listing "{{listing_title}}" on {{platform}} uses product
images that belong to {{brand_name}}. We assume this was unintentional and
would appreciate it if you could remove or replace these images within
{{deadline_days}} days.

Listing URL: {{listing_url}}

If you believe this is a mistake or you have authorization to use these
images, please reply with the relevant details.

Thank you for your cooperation.

{{sender_name}}
`),
	},
	{
		ID:      "letter-formal-v1",
		Level:   models.WarningFormal,
		Subject: "Formal notice of image infringement - case {{case_number}}",
		Body: strings.TrimSpace(`
Dear {{seller_name}},

This is a formal notice regarding the unauthorized use of copyrighted images
owned by {{brand_name}} in your listing "{{listing_title}}" on {{platform}}.

Case number: {{case_number}}
Listing URL: {{listing_url}}
Detected on: {{detected_date}}
Similarity: {{similarity_score}}%

You are required to remove the infringing images within {{deadline_days}}
days of this notice. Failure to comply will result in a formal report to
{{platform}} and may lead to further legal action.

{{sender_name}}
`),
	},
	{
		ID:      "letter-legal-v1",
		Level:   models.WarningLegal,
		Subject: "Final warning prior to legal action - case {{case_number}}",
		Body: strings.TrimSpace(`
Dear {{seller_name}},

Despite prior notices, the listing "{{listing_title}}" on {{platform}}
continues to use images owned by {{brand_name}} without authorization.

Case number: {{case_number}}
Listing URL: {{listing_url}}
Prior notices sent: {{notice_count}}

This is a final warning. Unless the infringing content is removed within
{{deadline_days}} days, we will file a formal infringement report with
{{platform}} and pursue all available legal remedies, including claims for
damages under applicable copyright law.

This letter is sent without prejudice to any rights or remedies, all of
which are expressly reserved.

{{sender_name}}
{{law_firm}}
`),
	},
}

var reportTemplates = []ReportTemplate{
	{
		ID:   "report-copyright-v1",
		Type: models.ReportCopyright,
		Body: strings.TrimSpace(`
COPYRIGHT INFRINGEMENT REPORT

Reporting party: {{reporter_name}}
Rights owner: {{brand_name}}
Case number: {{case_number}}

Infringing listing: {{listing_title}}
Listing URL: {{listing_url}}
Seller: {{seller_name}} ({{seller_id}})

The listing above uses copyrighted product photography owned by
{{brand_name}} without license or authorization. Image similarity analysis
scored the listing images at {{similarity_score}}% against the original
works. Evidence is attached under case {{case_number}}.

We request removal of the infringing listing under your intellectual
property protection policy.

I declare in good faith that the information in this report is accurate and
that I am authorized to act on behalf of the rights owner.
`),
	},
	{
		ID:   "report-trademark-v1",
		Type: models.ReportTrademark,
		Body: strings.TrimSpace(`
TRADEMARK INFRINGEMENT REPORT

Reporting party: {{reporter_name}}
Trademark owner: {{brand_name}}
Registration number: {{trademark_number}}
Case number: {{case_number}}

Infringing listing: {{listing_title}}
Listing URL: {{listing_url}}
Seller: {{seller_name}} ({{seller_id}})

The listing uses the registered trademark of {{brand_name}} in its images
and title without authorization, in a manner likely to cause consumer
confusion as to the origin of the goods.

We request removal of the infringing listing and suspension of repeat
offenders per your trademark protection policy.
`),
	},
	{
		ID:   "report-counterfeit-v1",
		Type: models.ReportCounterfeit,
		Body: strings.TrimSpace(`
COUNTERFEIT GOODS REPORT

Reporting party: {{reporter_name}}
Brand: {{brand_name}}
Case number: {{case_number}}

Suspected counterfeit listing: {{listing_title}}
Listing URL: {{listing_url}}
Seller: {{seller_name}} ({{seller_id}})
Listed price: {{listing_price}} (genuine retail: {{retail_price}})

The listing offers goods presented with {{brand_name}} product imagery at a
price and from a source inconsistent with authorized distribution. Image
analysis matched the listing photos to original product photography at
{{similarity_score}}% similarity.

We request immediate removal of the listing and preservation of seller
records for potential law enforcement referral.
`),
	},
}
