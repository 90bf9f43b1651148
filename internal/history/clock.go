package history

import (
	"time"

	"golang.org/x/text/language"
)

// Regions whose everyday clock is 12-hour.
var twelveHourRegions = map[string]struct{}{
	"US": {}, "CA": {}, "AU": {}, "NZ": {}, "IN": {}, "PH": {},
	"PK": {}, "BD": {}, "EG": {}, "SA": {}, "MY": {}, "CO": {},
}

// Clock renders t as hour:minute the way locale expects it. Unknown or empty
// locales fall back to the 24-hour form.
func Clock(t time.Time, locale string) string {
	if uses12Hour(locale) {
		return t.Format("3:04 PM")
	}
	return t.Format("15:04")
}

func uses12Hour(locale string) bool {
	if locale == "" {
		return false
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	region, confidence := tag.Region()
	if confidence == language.No {
		return false
	}
	_, ok := twelveHourRegions[region.String()]
	return ok
}
