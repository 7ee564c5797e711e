package formsubmit

import "fmt"

// Element is a page element a form is bound to.
type Element interface {
	// Value returns the element's current input value.
	Value() string
	// SetSource sets the element's image source.
	SetSource(src string)
}

// Document looks elements up by id.
type Document interface {
	ElementByID(id string) (Element, bool)
}

// ElementID returns the id of the copy of element root that belongs to the
// given form instance.
func ElementID(root, instance string) string {
	return root + "-" + instance
}

type elementValue struct{ el Element }

func (e elementValue) Value() (string, error) { return e.el.Value(), nil }

type elementImage struct{ el Element }

func (e elementImage) SetSource(src string) error {
	e.el.SetSource(src)
	return nil
}

// BindForm resolves the elements of one form instance up front: every field
// element and the image target. A missing element fails immediately with
// ErrMissingElement, so nothing is sent for an incomplete form.
func BindForm(doc Document, action string, fieldNames []string, imageTarget, instance string, hider Hider) (Form, error) {
	form := Form{
		Action:   action,
		Fields:   make([]Field, 0, len(fieldNames)),
		Hider:    hider,
		Instance: instance,
	}

	for _, name := range fieldNames {
		id := ElementID(name, instance)

		el, ok := doc.ElementByID(id)
		if !ok {
			return Form{}, &FieldError{Name: name, ID: id, Err: ErrMissingElement}
		}

		form.Fields = append(form.Fields, Field{Name: name, Source: elementValue{el}})
	}

	id := ElementID(imageTarget, instance)

	img, ok := doc.ElementByID(id)
	if !ok {
		return Form{}, fmt.Errorf("formsubmit: image target %q: %w", id, ErrMissingElement)
	}
	form.Image = elementImage{img}

	return form, nil
}
