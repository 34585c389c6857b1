package relay

import (
	"testing"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name    string
		opts    *ManagerOptions
		wantErr bool
	}{
		{
			name:    "nil options",
			opts:    nil,
			wantErr: true,
		},
		{
			name: "missing subscription ID",
			opts: &ManagerOptions{
				ResourceGroupName: "test-rg",
				NamespaceName:     "test-ns",
			},
			wantErr: true,
		},
		{
			name: "missing resource group",
			opts: &ManagerOptions{
				SubscriptionID: "test-sub",
				NamespaceName:  "test-ns",
			},
			wantErr: true,
		},
		{
			name: "missing namespace name",
			opts: &ManagerOptions{
				SubscriptionID:    "test-sub",
				ResourceGroupName: "test-rg",
			},
			wantErr: true,
		},
		{
			name: "explicit credential",
			opts: &ManagerOptions{
				SubscriptionID:    "00000000-0000-0000-0000-000000000000",
				ResourceGroupName: "test-rg",
				NamespaceName:     "test-ns",
				Credential:        &fakeCredential{token: "aad"},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewManager() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && m.Namespace() != tt.opts.NamespaceName {
				t.Errorf("Namespace() = %q, want %q", m.Namespace(), tt.opts.NamespaceName)
			}
		})
	}
}
