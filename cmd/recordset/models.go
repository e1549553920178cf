package main

import "github.com/tordrt/recordset"

// buildRegistry declares the sample blog models the CLI manages. An
// application embedding the commands would register its own types here.
func buildRegistry() (*recordset.Registry, error) {
	reg := recordset.NewRegistry()

	if _, err := reg.Register(recordset.Definition{
		Name: "Author",
		Fields: []recordset.Field{
			recordset.Text("name"),
			recordset.Text("email", recordset.Unique()),
			recordset.Integer("age", recordset.Null()),
		},
	}); err != nil {
		return nil, err
	}

	if _, err := reg.Register(recordset.Definition{
		Name: "Post",
		Fields: []recordset.Field{
			recordset.Text("title"),
			recordset.Text("body", recordset.Null()),
			recordset.DateTime("published_at", recordset.Null()),
			recordset.ForeignKey("author", "Author"),
			recordset.ManyToManyField("tags", "Tag"),
		},
	}); err != nil {
		return nil, err
	}

	if _, err := reg.Register(recordset.Definition{
		Name: "Tag",
		Fields: []recordset.Field{
			recordset.Text("label", recordset.Unique()),
		},
	}); err != nil {
		return nil, err
	}

	return reg, nil
}
