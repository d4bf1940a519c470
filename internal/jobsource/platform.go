package jobsource

import (
	"net/url"
	"strings"
)

// Platform is a known applicant tracking system hosting job postings.
type Platform string

const (
	PlatformGreenhouse Platform = "greenhouse"
	PlatformLever      Platform = "lever"
	PlatformWorkday    Platform = "workday"
	PlatformAshby      Platform = "ashby"
	PlatformUnknown    Platform = "unknown"
)

var platformHosts = []struct {
	suffix   string
	platform Platform
}{
	{"greenhouse.io", PlatformGreenhouse},
	{"lever.co", PlatformLever},
	{"myworkdayjobs.com", PlatformWorkday},
	{"workday.com", PlatformWorkday},
	{"ashbyhq.com", PlatformAshby},
}

// DetectPlatform identifies the hosting platform from a posting URL.
func DetectPlatform(pageURL string) Platform {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return PlatformUnknown
	}

	host := strings.ToLower(parsed.Hostname())
	for _, h := range platformHosts {
		if host == h.suffix || strings.HasSuffix(host, "."+h.suffix) {
			return h.platform
		}
	}
	return PlatformUnknown
}

// PlatformContentSelectors returns the description selectors to try for a platform, most specific first.
func PlatformContentSelectors(platform Platform) []string {
	switch platform {
	case PlatformGreenhouse:
		return []string{".job__description.body", ".job__description", ".job-description__content", "#content"}
	case PlatformLever:
		return []string{".posting-page", ".posting-description", ".section-wrapper.page-full-width", ".content"}
	case PlatformWorkday:
		return []string{"[data-automation-id='jobPostingDescription']", "[data-automation-id='jobDescription']", ".job-description"}
	case PlatformAshby:
		return []string{"[class*='descriptionText']", "#overview"}
	default:
		return []string{
			".job-description",
			"#job-description",
			".job-details",
			".posting-content",
			"[data-testid='job-description']",
			"main",
			"article",
			".content",
			"#content",
		}
	}
}

// PlatformNoiseSelectors returns elements to strip before extracting text:
// application forms, EEO statements and share widgets.
func PlatformNoiseSelectors(platform Platform) []string {
	common := []string{
		"form",
		".application-form",
		"#application-form",
		"[data-testid='application-form']",
		".eeo-statement",
		".voluntary-disclosure",
		".self-identification",
		".social-share",
		".cookie-consent",
	}

	switch platform {
	case PlatformGreenhouse:
		return append(common, ".application--wrapper", ".voluntary-self-id", "#usa_self_id_section")
	case PlatformLever:
		return append(common, ".apply-section", ".posting-apply")
	case PlatformWorkday:
		return append(common, "[data-automation-id='applyButton']")
	default:
		return common
	}
}
