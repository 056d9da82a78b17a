package core

import "medassist/pkg"

// RecordTurns returns a copy of prior extended with the user's message and
// the model's reply, in that order.  prior itself is left untouched.
func RecordTurns(prior pkg.Transcript, message, reply string) pkg.Transcript {
	out := make(pkg.Transcript, 0, len(prior)+2)
	out = append(out, prior.Clone()...)
	return append(out,
		pkg.Turn{Role: pkg.RoleUser, Segments: []string{message}},
		pkg.Turn{Role: pkg.RoleModel, Segments: []string{reply}},
	)
}
