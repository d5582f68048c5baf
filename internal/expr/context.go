package expr

// VarContext maps variable names to concrete integer values, used by
// Concretize.
type VarContext struct {
	vals map[string]int64
}

func NewVarContext() *VarContext {
	return &VarContext{vals: make(map[string]int64)}
}

func (c *VarContext) Set(name string, v int64) { c.vals[name] = v }

func (c *VarContext) Get(name string) (int64, bool) {
	v, ok := c.vals[name]
	return v, ok
}

func (c *VarContext) Remove(name string) { delete(c.vals, name) }

