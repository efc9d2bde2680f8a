package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     Vars
		want     string
	}{
		{
			name:     "all variables",
			template: "Hey {{username}}, you said {{comment_text}} on {{post_link}}",
			vars:     Vars{Username: "sam", CommentText: "price?", PostLink: "https://ig.example/p/1"},
			want:     "Hey sam, you said price? on https://ig.example/p/1",
		},
		{
			name:     "whitespace inside braces",
			template: "Hi {{ username }}!",
			vars:     Vars{Username: "sam"},
			want:     "Hi sam!",
		},
		{
			name:     "unrecognized placeholder left verbatim",
			template: "Hi {{usrname}}, thanks!",
			vars:     Vars{Username: "sam"},
			want:     "Hi {{usrname}}, thanks!",
		},
		{
			name:     "missing value renders empty",
			template: "Caption: {{post_caption}}.",
			vars:     Vars{},
			want:     "Caption: .",
		},
		{
			name:     "repeated placeholder",
			template: "{{username}} {{username}}",
			vars:     Vars{Username: "a"},
			want:     "a a",
		},
		{
			name:     "no placeholders",
			template: "plain text",
			vars:     Vars{Username: "sam"},
			want:     "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.template, tt.vars))
		})
	}
}
