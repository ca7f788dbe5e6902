package service

import (
	"regexp"
	"strings"
)

// servicePattern maps a free-text symptom phrasing to a canonical service
// keyword. Deterministic pattern matching only, no ML.
type servicePattern struct {
	re      *regexp.Regexp
	keyword string
}

var servicePatterns = []servicePattern{
	// installation
	{regexp.MustCompile(`backup camera|rear.?view camera|reversing camera`), "backup camera installation"},
	{regexp.MustCompile(`dash ?cam|dashboard camera`), "dashcam installation"},
	{regexp.MustCompile(`remote start|remote starter`), "remote starter installation"},
	{regexp.MustCompile(`audio|radio|stereo|speaker`), "audio system installation"},
	{regexp.MustCompile(`gps.?tracker|tracking.?device`), "GPS tracker installation"},
	{regexp.MustCompile(`alarm|security.?system`), "alarm system installation"},

	// diagnostics
	{regexp.MustCompile(`check.?engine|engine.?light|\bcel\b`), "check engine light"},
	{regexp.MustCompile(`abs.?light|abs.?warning`), "ABS warning"},
	{regexp.MustCompile(`airbag.?light|srs.?light`), "airbag light"},
	{regexp.MustCompile(`transmission.?(diagnostic|issue|problem)`), "transmission diagnostic"},
	{regexp.MustCompile(`electrical.?(diagnostic|issue|problem)`), "electrical diagnostic"},
	{regexp.MustCompile(`engine.?(diagnostic|issue|problem|noise)`), "engine diagnostic"},
	{regexp.MustCompile(`hvac|air.?conditioning|heater|\bac\b`), "HVAC diagnostic"},
	{regexp.MustCompile(`battery|won't.?start|no.?start`), "battery diagnostic"},

	// repairs
	{regexp.MustCompile(`brake.?(repair|fix|issue|problem|noise)`), "brake repair"},
	{regexp.MustCompile(`suspension|shock|strut`), "suspension repair"},
	{regexp.MustCompile(`engine.?repair`), "engine repair"},
	{regexp.MustCompile(`transmission.?repair`), "transmission repair"},
	{regexp.MustCompile(`steering|power.?steering`), "steering repair"},
	{regexp.MustCompile(`exhaust|muffler|catalytic`), "exhaust repair"},
	{regexp.MustCompile(`cooling|radiator|overheating`), "cooling system repair"},
	{regexp.MustCompile(`fuel.?system`), "fuel system repair"},

	// maintenance
	{regexp.MustCompile(`oil.?change`), "oil change"},
	{regexp.MustCompile(`tire.?rotation|rotate.?tires`), "tire rotation"},
	{regexp.MustCompile(`brake.?pad|brake.?replacement`), "brake pad replacement"},
	{regexp.MustCompile(`timing.?belt`), "timing belt replacement"},
	{regexp.MustCompile(`air.?filter`), "air filter replacement"},
	{regexp.MustCompile(`spark.?plug`), "spark plug replacement"},
	{regexp.MustCompile(`coolant.?flush`), "coolant flush"},
	{regexp.MustCompile(`transmission.?fluid`), "transmission fluid change"},

	// brand-specific
	{regexp.MustCompile(`bmw.?(coding|programming|diagnostic)`), "BMW coding"},
	{regexp.MustCompile(`tesla.?(diagnostic|issue|problem)`), "Tesla diagnostics"},
	{regexp.MustCompile(`mercedes.?(star|diagnostic)`), "Mercedes STAR diagnostic"},
	{regexp.MustCompile(`audi.?(vcds|diagnostic)`), "Audi VCDS diagnostic"},
	{regexp.MustCompile(`porsche.?(diagnostic|piwis)`), "Porsche diagnostic"},
}

// ExtractKeywords derives canonical service keywords from a customer's
// free-text concern. Output order follows the pattern table, duplicates
// removed, so identical input always yields identical output.
func ExtractKeywords(concern string) []string {
	if concern == "" {
		return nil
	}
	text := strings.ToLower(concern)

	var keywords []string
	seen := make(map[string]bool)
	for _, sp := range servicePatterns {
		if sp.re.MatchString(text) && !seen[sp.keyword] {
			seen[sp.keyword] = true
			keywords = append(keywords, sp.keyword)
		}
	}
	return keywords
}
