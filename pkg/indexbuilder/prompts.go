package indexbuilder

import "strings"

const phenomenonMergeSystemPrompt = `You canonicalize a cluster of semantically similar incident
observations into one description. Requirements:
- Preserve the key metric the observations describe.
- Remove specific numeric thresholds ("exceeds threshold" rather than "65%").
- Produce exactly one sentence.
Respond with the canonical sentence only, no preamble.`

func mergePhenomenonPrompt(descriptions []string) string {
	return "Observations:\n- " + strings.Join(descriptions, "\n- ")
}

const rootCauseMergeSystemPrompt = `You canonicalize a cluster of semantically similar root-cause
descriptions into one description. Produce a concise, general phrasing
that captures what every member in the cluster has in common. Respond
with the canonical description only, no preamble.`

func mergeRootCauseDescriptionPrompt(descriptions []string) string {
	return "Root cause descriptions:\n- " + strings.Join(descriptions, "\n- ")
}

const solutionMergeSystemPrompt = `You merge a cluster of remediation write-ups for the same
underlying root cause into one solution. Deduplicate overlapping
steps, but preserve every distinct remediation action mentioned by any
member. Respond with the merged solution only, no preamble.`

func mergeSolutionPrompt(solutions []string) string {
	return "Solutions:\n- " + strings.Join(solutions, "\n- ")
}
