package config

// Index is the set of identifier lookups built once at load time; the
// router consumes it instead of scanning slices on every resolution.
type Index struct {
	cfg *Config

	categoriesByID   map[string]*Category
	commandSetsByID  map[string]*CommandSet
	accessListsByID  map[string]*AccessList
	connectionsByID  map[string]*Connection
	forcedByToken    map[string]*CommandSet // command set name/prefix -> set (Stage B)
	publicSets       []*CommandSet          // enabled public sets (Stage C.1)
	setsByCategory   map[string][]*CommandSet
}

// BuildIndex constructs the lookup tables for a validated Config. Callers
// must have called Validate successfully first.
func BuildIndex(cfg *Config) *Index {
	idx := &Index{
		cfg:              cfg,
		categoriesByID:   make(map[string]*Category, len(cfg.Categories)),
		commandSetsByID:  make(map[string]*CommandSet, len(cfg.CommandSets)),
		accessListsByID:  make(map[string]*AccessList, len(cfg.AccessLists)),
		connectionsByID:  make(map[string]*Connection, len(cfg.Connections)),
		forcedByToken:    make(map[string]*CommandSet),
		setsByCategory:   make(map[string][]*CommandSet),
	}

	for i := range cfg.Categories {
		idx.categoriesByID[cfg.Categories[i].ID] = &cfg.Categories[i]
	}
	for i := range cfg.AccessLists {
		idx.accessListsByID[cfg.AccessLists[i].ID] = &cfg.AccessLists[i]
	}
	for i := range cfg.Connections {
		idx.connectionsByID[cfg.Connections[i].ID] = &cfg.Connections[i]
	}
	for i := range cfg.CommandSets {
		cs := &cfg.CommandSets[i]
		idx.commandSetsByID[cs.ID] = cs

		if cs.Name != "" {
			idx.forcedByToken[cs.Name] = cs
		}
		if cs.Prefix != "" {
			idx.forcedByToken[cs.Prefix] = cs
		}

		if cs.IsPublic && cs.Enabled {
			idx.publicSets = append(idx.publicSets, cs)
		}
		if cs.Category != "" {
			idx.setsByCategory[cs.Category] = append(idx.setsByCategory[cs.Category], cs)
		}
	}

	return idx
}

func (idx *Index) Config() *Config { return idx.cfg }

func (idx *Index) Category(id string) (*Category, bool) {
	c, ok := idx.categoriesByID[id]
	return c, ok
}

func (idx *Index) CommandSet(id string) (*CommandSet, bool) {
	cs, ok := idx.commandSetsByID[id]
	return cs, ok
}

func (idx *Index) AccessList(id string) (*AccessList, bool) {
	al, ok := idx.accessListsByID[id]
	return al, ok
}

func (idx *Index) Connection(id string) (*Connection, bool) {
	c, ok := idx.connectionsByID[id]
	return c, ok
}

// Connections returns all configured connections in file order.
func (idx *Index) Connections() []Connection {
	return idx.cfg.Connections
}

// Categories returns all configured categories in file order.
func (idx *Index) Categories() []Category {
	return idx.cfg.Categories
}

// ForcedSet resolves a Stage B token (a command set's name or prefix,
// case-sensitive) to its command set.
func (idx *Index) ForcedSet(token string) (*CommandSet, bool) {
	cs, ok := idx.forcedByToken[token]
	return cs, ok
}

// PublicSets returns all enabled public (category-independent) command sets.
func (idx *Index) PublicSets() []*CommandSet {
	return idx.publicSets
}

// CategorySets returns all command sets belonging to category id.
func (idx *Index) CategorySets(categoryID string) []*CommandSet {
	return idx.setsByCategory[categoryID]
}

// CommandsOf returns cs's commands ordered longest-name-first.
func CommandsOf(cs *CommandSet) []Command {
	return cs.sortedCommands()
}

// NamesOf returns a command's name plus aliases, longest first.
func NamesOf(c Command) []string {
	return c.names()
}

// Order returns cs's position in the config file (Stage C tie-break).
func Order(cs *CommandSet) int {
	return cs.order
}
