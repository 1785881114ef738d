package campaign

import (
	"context"
	"fmt"

	"github.com/chatrelay/convoengine/internal/channel"
)

// ResolveTargets expands any entry of targets that names a channel group
// (CampaignJob.targets, ScheduledMessage.targetGroups) into that group's
// member phone numbers, grounded on
// group_messaging/services/group_service.py's get_all_groups/
// get_all_contacts pairing. Entries that match no known group id or name
// pass through unchanged, to be canonicalized downstream as a literal
// recipient.
func ResolveTargets(ctx context.Context, tenant string, targets []string, ch *channel.Client) ([]string, error) {
	groups, err := ch.ListGroups(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("campaign: list groups: %w", err)
	}

	byAlias := make(map[string]channel.GroupInfo, len(groups))
	for _, g := range groups {
		byAlias[g.ID] = g
		if g.Name != "" {
			byAlias[g.Name] = g
		}
	}

	hasGroupTarget := false
	for _, t := range targets {
		if _, ok := byAlias[t]; ok {
			hasGroupTarget = true
			break
		}
	}
	if !hasGroupTarget {
		return targets, nil
	}

	contacts, err := ch.ListContacts(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("campaign: list contacts: %w", err)
	}
	numberByContactID := make(map[string]string, len(contacts))
	for _, c := range contacts {
		numberByContactID[c.ID] = c.Number
	}

	out := make([]string, 0, len(targets))
	for _, target := range targets {
		group, isGroup := byAlias[target]
		if !isGroup {
			out = append(out, target)
			continue
		}
		for _, member := range group.Members {
			if number, ok := numberByContactID[member]; ok {
				out = append(out, number)
				continue
			}
			out = append(out, member)
		}
	}
	return out, nil
}
