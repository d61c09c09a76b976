package security

import (
	"bufio"
	_ "embed"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

const (
	// DefaultMinLength is the minimum password length when none is configured
	DefaultMinLength = 8
	// DefaultMaxSimilarity is the similarity ratio at which a password is rejected
	DefaultMaxSimilarity = 0.7
)

//go:embed common_passwords.txt
var embeddedCommonPasswords string

// UserAttributes are the account values a password must not resemble.
// Keys are the human-readable attribute names used in messages.
type UserAttributes map[string]string

// PasswordRule checks a single policy dimension.
// It returns an empty string when the password passes.
type PasswordRule interface {
	Check(password string, attrs UserAttributes) string
}

// WeakPasswordError lists every rule a password failed.
type WeakPasswordError struct {
	Reasons []string
}

// Error implements the error interface
func (e *WeakPasswordError) Error() string {
	return "weak password: " + strings.Join(e.Reasons, " ")
}

// PasswordPolicy configures NewPasswordValidator.
type PasswordPolicy struct {
	MinLength      int
	MaxSimilarity  float64
	CommonListPath string // replaces the embedded list when set
}

// PasswordValidator runs a fixed list of rules and reports all failures.
type PasswordValidator struct {
	rules []PasswordRule
}

// NewPasswordValidator builds the default rule set from policy.
func NewPasswordValidator(policy PasswordPolicy) (*PasswordValidator, error) {
	if policy.MinLength <= 0 {
		policy.MinLength = DefaultMinLength
	}
	if policy.MaxSimilarity <= 0 {
		policy.MaxSimilarity = DefaultMaxSimilarity
	}

	common, err := loadCommonPasswords(policy.CommonListPath)
	if err != nil {
		return nil, err
	}

	return NewPasswordValidatorWithRules(
		SimilarityRule{MaxSimilarity: policy.MaxSimilarity},
		MinLengthRule{MinLength: policy.MinLength},
		CommonPasswordRule{passwords: common},
		NumericPasswordRule{},
	), nil
}

// NewPasswordValidatorWithRules builds a validator from explicit rules.
func NewPasswordValidatorWithRules(rules ...PasswordRule) *PasswordValidator {
	return &PasswordValidator{rules: rules}
}

// Validate returns a *WeakPasswordError listing every failed rule, or nil.
func (v *PasswordValidator) Validate(password string, attrs UserAttributes) error {
	var reasons []string
	for _, rule := range v.rules {
		if msg := rule.Check(password, attrs); msg != "" {
			reasons = append(reasons, msg)
		}
	}
	if len(reasons) > 0 {
		return &WeakPasswordError{Reasons: reasons}
	}
	return nil
}

// MinLengthRule rejects passwords shorter than MinLength runes.
type MinLengthRule struct {
	MinLength int
}

// Check implements PasswordRule
func (r MinLengthRule) Check(password string, _ UserAttributes) string {
	if len([]rune(password)) < r.MinLength {
		return fmt.Sprintf("This password is too short. It must contain at least %d characters.", r.MinLength)
	}
	return ""
}

// NumericPasswordRule rejects passwords made only of digits.
type NumericPasswordRule struct{}

// Check implements PasswordRule
func (NumericPasswordRule) Check(password string, _ UserAttributes) string {
	if password == "" {
		return ""
	}
	for _, r := range password {
		if !unicode.IsDigit(r) {
			return ""
		}
	}
	return "This password is entirely numeric."
}

// CommonPasswordRule rejects passwords found in a list of common passwords.
// Matching is case-insensitive and ignores surrounding whitespace.
type CommonPasswordRule struct {
	passwords map[string]struct{}
}

// NewCommonPasswordRule builds a rule from a word list.
func NewCommonPasswordRule(words []string) CommonPasswordRule {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			set[w] = struct{}{}
		}
	}
	return CommonPasswordRule{passwords: set}
}

// Check implements PasswordRule
func (r CommonPasswordRule) Check(password string, _ UserAttributes) string {
	if _, ok := r.passwords[strings.ToLower(strings.TrimSpace(password))]; ok {
		return "This password is too common."
	}
	return ""
}

var nonWord = regexp.MustCompile(`\W+`)

// SimilarityRule rejects passwords too similar to a user attribute or to any
// word-separated part of it (e.g. the local part of an email address).
type SimilarityRule struct {
	MaxSimilarity float64
}

// Check implements PasswordRule
func (r SimilarityRule) Check(password string, attrs UserAttributes) string {
	if len(attrs) == 0 || password == "" {
		return ""
	}
	lower := strings.ToLower(password)
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		value := strings.ToLower(attrs[name])
		if value == "" {
			continue
		}
		parts := append(nonWord.Split(value, -1), value)
		for _, part := range parts {
			if part == "" || exceedsLengthRatio(lower, part, r.MaxSimilarity) {
				continue
			}
			if similarity(lower, part) >= r.MaxSimilarity {
				return fmt.Sprintf("The password is too similar to the %s.", name)
			}
		}
	}
	return ""
}

// exceedsLengthRatio skips attribute parts so short relative to the password
// that they cannot reach the threshold.
func exceedsLengthRatio(password, value string, maxSimilarity float64) bool {
	pwdLen := len([]rune(password))
	valueLen := len([]rune(value))
	return pwdLen >= 10*valueLen && float64(valueLen) < maxSimilarity/2*float64(pwdLen)
}

// similarity is an upper bound on the matching-blocks ratio: twice the size of
// the multiset intersection of runes divided by the total length.
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1
	}
	avail := make(map[rune]int, len(rb))
	for _, c := range rb {
		avail[c]++
	}
	matches := 0
	for _, c := range ra {
		if avail[c] > 0 {
			avail[c]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(total)
}

func loadCommonPasswords(path string) (map[string]struct{}, error) {
	if path == "" {
		return readWordList(strings.NewReader(embeddedCommonPasswords))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open common password list: %w", err)
	}
	defer f.Close()
	return readWordList(f)
}

func readWordList(r io.Reader) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		w := strings.ToLower(strings.TrimSpace(scanner.Text()))
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		set[w] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read common password list: %w", err)
	}
	return set, nil
}
