package dag

import "fmt"

// Build creates the task graph and returns its execution order.
//
// names lists the tasks in registration order. requires maps a task to the
// task names or cache keys it needs; provides maps a task to the cache keys
// it produces. The graph is built from scratch on every call, so a changed
// task set never sees edges from a previous build.
func Build(names []string, requires, provides map[string][]string) ([]string, error) {
	g := New()
	for _, name := range names {
		g.AddNode(name)
	}

	providers, err := providerIndex(names, provides)
	if err != nil {
		return nil, err
	}

	for _, name := range names {
		if err := linkExplicit(g, name, requires[name]); err != nil {
			return nil, err
		}
		if err := linkImplicit(g, name, requires[name], providers); err != nil {
			return nil, err
		}
	}
	return g.Order()
}

// providerIndex maps each provided key to its task.
func providerIndex(names []string, provides map[string][]string) (map[string]string, error) {
	providers := make(map[string]string)
	for _, name := range names {
		for _, key := range provides[name] {
			if other, ok := providers[key]; ok && other != name {
				return nil, fmt.Errorf("%w: %q is provided by %q and %q", ErrDuplicateProvider, key, other, name)
			}
			providers[key] = name
		}
	}
	return providers, nil
}

// linkExplicit adds edges for requirements that name another task.
func linkExplicit(g *Graph, name string, reqs []string) error {
	for _, req := range reqs {
		if _, isTask := g.nodes[req]; !isTask {
			continue
		}
		if req == name {
			return fmt.Errorf("task %q cannot depend on itself", name)
		}
		if err := g.AddEdge(req, name); err != nil {
			return err
		}
	}
	return nil
}

// linkImplicit adds edges from the provider of each required cache key.
func linkImplicit(g *Graph, name string, reqs []string, providers map[string]string) error {
	for _, req := range reqs {
		if _, isTask := g.nodes[req]; isTask {
			continue
		}
		provider, ok := providers[req]
		if !ok {
			return fmt.Errorf("%w: task %q requires %q", ErrUnknownRequirement, name, req)
		}
		if provider == name {
			continue
		}
		if err := g.AddEdge(provider, name); err != nil {
			return err
		}
	}
	return nil
}
