// Package useragent classifies user agent strings against an embedded rule
// database. Rules use PCRE patterns, so upstream device-detector regexes can
// be dropped in without translation.
package useragent

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

// UserAgent is the parsed classification of a user agent string.
type UserAgent struct {
	UserAgent string
	OS        string
	Browser   string
	Device    string
	Mobile    bool
	Tablet    bool
	Desktop   bool
	Bot       bool
}

//go:embed database/bots.yml
//go:embed database/browsers.yml
//go:embed database/oss.yml
var databaseFiles embed.FS

// BotEntry matches crawler and automation user agents.
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

// BrowserEntry maps a user agent pattern to a browser name. Entries are
// evaluated in file order; the first match wins.
type BrowserEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// OSEntry maps a user agent pattern to an operating system name.
type OSEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

// regexCache compiles each pattern once and is safe for concurrent use.
type regexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *regexCache {
	return &regexCache{compiled: make(map[string]*pcre.Regexp)}
}

func (rc *regexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

var (
	parser *ruleParser
	once   sync.Once
)

type ruleParser struct {
	bots     []BotEntry
	browsers []BrowserEntry
	oss      []OSEntry
	cache    *regexCache
}

func getParser() *ruleParser {
	once.Do(func() {
		parser = &ruleParser{cache: newRegexCache()}

		if data, err := databaseFiles.ReadFile("database/bots.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.bots); err != nil {
				fmt.Printf("Error parsing bots.yml: %v\n", err)
			}
		}
		if data, err := databaseFiles.ReadFile("database/browsers.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.browsers); err != nil {
				fmt.Printf("Error parsing browsers.yml: %v\n", err)
			}
		}
		if data, err := databaseFiles.ReadFile("database/oss.yml"); err == nil {
			if err := yaml.Unmarshal(data, &parser.oss); err != nil {
				fmt.Printf("Error parsing oss.yml: %v\n", err)
			}
		}
	})
	return parser
}

func (p *ruleParser) parseBot(userAgent string) *BotEntry {
	for i := range p.bots {
		if regex, err := p.cache.get(p.bots[i].Regex); err == nil {
			if regex.MatchString(userAgent) {
				return &p.bots[i]
			}
		}
	}
	return nil
}

func (p *ruleParser) parseBrowser(userAgent string) string {
	for _, entry := range p.browsers {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return entry.Name
			}
		}
	}
	return "Unknown"
}

func (p *ruleParser) parseOS(userAgent string) string {
	for _, entry := range p.oss {
		if regex, err := p.cache.get(entry.Regex); err == nil {
			if regex.MatchString(userAgent) {
				return entry.Name
			}
		}
	}
	return "Unknown"
}

// parseDeviceType classifies the form factor. Tablets are checked before
// phones because tablet user agents frequently carry "Mobile" too.
func parseDeviceType(userAgent string) (device string, mobile, tablet, desktop bool) {
	ua := strings.ToLower(userAgent)

	if strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad") ||
		strings.Contains(ua, "kindle") || strings.Contains(ua, "silk/") {
		return "Tablet", false, true, false
	}

	if strings.Contains(ua, "mobile") || strings.Contains(ua, "android") ||
		strings.Contains(ua, "iphone") || strings.Contains(ua, "ipod") ||
		strings.Contains(ua, "blackberry") || strings.Contains(ua, "windows phone") {
		return "Mobile", true, false, false
	}

	return "Desktop", false, false, true
}

// ParseUserAgent classifies a user agent string. Bots short-circuit: a bot
// match skips browser, OS and device resolution entirely.
func ParseUserAgent(userAgent string) UserAgent {
	parser := getParser()

	if bot := parser.parseBot(userAgent); bot != nil {
		return UserAgent{
			UserAgent: userAgent,
			OS:        "Unknown",
			Browser:   bot.Name,
			Device:    "Bot",
			Bot:       true,
		}
	}

	browser := parser.parseBrowser(userAgent)
	os := parser.parseOS(userAgent)
	device, mobile, tablet, desktop := parseDeviceType(userAgent)

	return UserAgent{
		UserAgent: userAgent,
		OS:        os,
		Browser:   browser,
		Device:    device,
		Mobile:    mobile,
		Tablet:    tablet,
		Desktop:   desktop,
		Bot:       false,
	}
}
