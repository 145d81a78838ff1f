package analysis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sprite-ai/fixrev/internal/diff"
	"github.com/sprite-ai/fixrev/internal/model"
)

// Security-sensitive patterns grouped by category.
var securityPatterns = []struct {
	category string
	patterns []*regexp.Regexp
}{
	{
		category: "authentication",
		patterns: compilePatterns(
			`(?i)(auth|login|logout|signin|signup|password|credential|jwt|oauth|session|cookie)`,
		),
	},
	{
		category: "authorization",
		patterns: compilePatterns(
			`(?i)(permission|role|access.?control|rbac|acl|authorize|forbidden|is.?admin|can.?access)`,
		),
	},
	{
		category: "SQL",
		patterns: compilePatterns(
			`(?i)(db\.exec|db\.query|\.prepare\(|raw.?sql)`,
			`(\bSELECT\b|\bINSERT\b|\bUPDATE\b|\bDELETE\b|\bDROP\b|\bALTER\b)\s`,
			`(?i)(connection\.execute|cursor\.execute)`,
		),
	},
	{
		category: "cryptography",
		patterns: compilePatterns(
			`(?i)(encrypt|decrypt|hmac|cipher|\baes\b|\brsa\b|sha256|sha512|bcrypt|argon|scrypt|pbkdf|\bmd5\b)`,
			`(?i)(private.?key|secret.?key|signing.?key|crypto\.)`,
		),
	},
	{
		category: "file system",
		patterns: compilePatterns(
			`(os\.Remove|os\.Rename|os\.Chmod|os\.Chown|os\.WriteFile|shutil\.rmtree|os\.unlink)`,
			`(?i)(unlink|rmdir|chmod|chown)\(`,
		),
	},
	{
		category: "secrets",
		patterns: compilePatterns(
			`(?i)(os\.Getenv|os\.environ|process\.env|getenv)`,
			`(?i)(api.?key|secret|password|token)\s*[:=]\s*["']`,
		),
	},
	{
		category: "TLS",
		patterns: compilePatterns(
			`(?i)(InsecureSkipVerify|verify\s*=\s*False|rejectUnauthorized\s*:\s*false)`,
		),
	},
	{
		category: "subprocess",
		patterns: compilePatterns(
			`(exec\.Command|os\.system|subprocess\.|child_process|shell_exec|shell\s*=\s*True)`,
			`\beval\(`,
		),
	},
}

func compilePatterns(patterns ...string) []*regexp.Regexp {
	var compiled []*regexp.Regexp
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// SecurityCheck flags added lines that touch security-sensitive code. A
// lint fix rarely needs to, so such lines deserve a second look.
func SecurityCheck(f *diff.File) []model.Advisory {
	var out []model.Advisory
	for _, l := range added(f) {
		if isComment(l.text) {
			continue
		}
		for _, sp := range securityPatterns {
			for _, re := range sp.patterns {
				if re.MatchString(l.text) {
					out = append(out, model.Advisory{
						Check:   "security",
						File:    f.Name(),
						Line:    l.num,
						Message: fmt.Sprintf("touches %s code: %s", sp.category, strings.TrimSpace(l.text)),
					})
					break // one advisory per category per line
				}
			}
		}
	}
	return out
}
