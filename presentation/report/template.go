package report

import "fmt"

func Render(incidentID, generatedAt, eventType, ticketID, comment, trace string) string {
	return fmt.Sprintf(`
# Incident %s

## Generated at

%s

## Event type

%s

## Ticket

%s

## Comment

%s

## Handling trace

`+"```"+`
%s
`+"```"+`
`,
		incidentID,
		generatedAt,
		eventType,
		ticketID,
		comment,
		trace,
	)
}
