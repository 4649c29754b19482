package config

import "fmt"

// InvalidError reports a config value that failed the load-time validation
// pass. It is fatal at initial load; at reload the caller keeps the old
// snapshot and surfaces this error instead of applying the change.
type InvalidError struct {
	Path   string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("config invalid at %s: %s", e.Path, e.Reason)
}

func invalid(path, reason string) error {
	return &InvalidError{Path: path, Reason: reason}
}

// Validate runs the id-indirection validation pass described in the design
// notes: CommandSet references Category by id, Category may reference its
// default_command_set by id — resolved by lookup, never by two-way pointer,
// so this pass is the only place those references are checked.
func (c *Config) Validate() error {
	categories := make(map[string]*Category, len(c.Categories))
	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.ID == "" {
			return invalid("categories[]", "category missing id")
		}
		if _, dup := categories[cat.ID]; dup {
			return invalid("categories."+cat.ID, "duplicate category id")
		}
		categories[cat.ID] = cat
	}

	accessLists := make(map[string]*AccessList, len(c.AccessLists))
	for i := range c.AccessLists {
		al := &c.AccessLists[i]
		if al.ID == "" {
			return invalid("access_lists[]", "access list missing id")
		}
		if al.Mode != ModeWhitelist && al.Mode != ModeBlacklist {
			return invalid("access_lists."+al.ID, "mode must be whitelist or blacklist")
		}
		if al.Type != AccessUser && al.Type != AccessGroup {
			return invalid("access_lists."+al.ID, "type must be user or group")
		}
		accessLists[al.ID] = al
	}

	connections := make(map[string]*Connection, len(c.Connections))
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.ID == "" {
			return invalid("connections[]", "connection missing id")
		}
		if conn.URL == "" {
			return invalid("connections."+conn.ID, "connection missing url")
		}
		connections[conn.ID] = conn
	}

	commandSets := make(map[string]*CommandSet, len(c.CommandSets))
	for i := range c.CommandSets {
		cs := &c.CommandSets[i]
		if cs.ID == "" {
			return invalid("command_sets[]", "command set missing id")
		}
		if _, dup := commandSets[cs.ID]; dup {
			return invalid("command_sets."+cs.ID, "duplicate command set id")
		}
		if cs.IsPublic && cs.Category != "" {
			return invalid("command_sets."+cs.ID, "is_public and category are mutually exclusive")
		}
		if cs.Category != "" {
			if _, ok := categories[cs.Category]; !ok {
				return invalid("command_sets."+cs.ID, "category references unknown id "+cs.Category)
			}
		}
		if cs.TargetWS != "" {
			if _, ok := connections[cs.TargetWS]; !ok {
				return invalid("command_sets."+cs.ID, "target_ws references unknown connection "+cs.TargetWS)
			}
		}
		if cs.UserAccessList != "" {
			al, ok := accessLists[cs.UserAccessList]
			if !ok || al.Type != AccessUser {
				return invalid("command_sets."+cs.ID, "user_access_list must reference a user-type access list")
			}
		}
		if cs.GroupAccessList != "" {
			al, ok := accessLists[cs.GroupAccessList]
			if !ok || al.Type != AccessGroup {
				return invalid("command_sets."+cs.ID, "group_access_list must reference a group-type access list")
			}
		}
		commandSets[cs.ID] = cs
	}

	for i := range c.Categories {
		cat := &c.Categories[i]
		if cat.DefaultCommandSet == "" {
			continue
		}
		cs, ok := commandSets[cat.DefaultCommandSet]
		if !ok {
			return invalid("categories."+cat.ID, "default_command_set references unknown id "+cat.DefaultCommandSet)
		}
		if cs.Category != cat.ID {
			return invalid("categories."+cat.ID, "default_command_set belongs to a different category")
		}
	}

	if c.Final.Action == FinalForward && c.Final.TargetWS == "" {
		return invalid("final", "action=forward requires target_ws")
	}
	if c.Final.TargetWS != "" {
		if _, ok := connections[c.Final.TargetWS]; !ok {
			return invalid("final", "target_ws references unknown connection "+c.Final.TargetWS)
		}
	}

	return nil
}
