package query

// Translate builds the tree for events matching filter and not matching
// exclusion. It returns nil when neither constrains anything, meaning every
// event matches.
func Translate(filter, exclusion *Filter, details Details) (*Node, error) {
	include, err := buildFilter(filter, details)
	if err != nil {
		return nil, err
	}
	exclude, err := buildFilter(exclusion, details)
	if err != nil {
		return nil, err
	}
	if include.Empty() && exclude.Empty() {
		return nil, nil
	}
	root := &Node{Occur: Must}
	if !include.Empty() {
		root.Children = append(root.Children, include)
	}
	if !exclude.Empty() {
		root.Children = append(root.Children, &Node{Occur: MustNot, Children: []*Node{exclude}})
	}
	return root, nil
}

func buildFilter(f *Filter, details Details) (*Node, error) {
	if f == nil {
		return nil, nil
	}
	b := NewBuilder(f.Operator, details)
	if err := b.AddFilter(f); err != nil {
		return nil, err
	}
	return b.Build()
}
