package profile

import "regexp"

// secretTagRE matches the tagged credential form <secret>key</secret>.
var secretTagRE = regexp.MustCompile(`<secret>(\w+)</secret>`)

// SaveCredentials stores the credential map for a profile.
func (s *Store) SaveCredentials(name string, creds map[string]string) error {
	return s.saveFile(name, "credentials.json", creds)
}

// LoadCredentials loads the credential map for a profile. A missing file
// yields an empty map.
func (s *Store) LoadCredentials(name string) (map[string]string, error) {
	creds := map[string]string{}
	if _, err := s.loadFile(name, "credentials.json", &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// ResolveCredential resolves a fill value against the profile's
// credential store using dual-mode injection:
//
//  1. Tagged: every <secret>key</secret> substring is replaced by the
//     stored value for key.
//  2. Literal: if the whole value equals a known key name, the stored
//     value is substituted.
//
// The original value is returned when no credential matches.
func (s *Store) ResolveCredential(profileName, value string) string {
	creds, err := s.LoadCredentials(profileName)
	if err != nil || len(creds) == 0 {
		return value
	}

	if secretTagRE.MatchString(value) {
		return secretTagRE.ReplaceAllStringFunc(value, func(tag string) string {
			if secret, ok := creds[secretTagRE.FindStringSubmatch(tag)[1]]; ok {
				return secret
			}
			return tag
		})
	}

	if secret, ok := creds[value]; ok {
		return secret
	}

	return value
}
