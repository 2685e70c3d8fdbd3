package locksmith

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/fortiblox/locksmith/pkg/svm"
	"github.com/fortiblox/locksmith/pkg/svm/programs/token"
)

func (p *Processor) initializeConfig(ctx svm.InvokeContext) error {
	infos, err := instructionAccounts(ctx, 6)
	if err != nil {
		return err
	}
	admin, config, feeAsset, feeVault, tokenProgram, systemProgram :=
		infos[0], infos[1], infos[2], infos[3], infos[4], infos[5]

	if !admin.IsSigner {
		return errors.Wrap(ErrUnauthorized, "admin must sign")
	}
	if feeAsset.Key != FeeMint {
		return errors.Wrapf(ErrInvalidMint, "fee asset %s", feeAsset.Key)
	}
	if err := expectLedgerPrograms(tokenProgram, systemProgram); err != nil {
		return err
	}

	configBump, err := expectAddress(ctx, config, configSeeds())
	if err != nil {
		return err
	}
	feeVaultBump, err := expectAddress(ctx, feeVault, feeVaultSeeds())
	if err != nil {
		return err
	}
	if exists(config) || exists(feeVault) {
		return ErrAlreadyInitialized
	}

	if err := createPDA(ctx, admin, config, ctx.ProgramID(), ConfigSize, ConfigSignerSeeds(configBump)); err != nil {
		return err
	}
	record := Config{Admin: admin.Key, Bump: configBump}
	copy(config.Data, record.Marshal())

	if err := createPDA(ctx, admin, feeVault, token.ProgramID, token.AccountSize, FeeVaultSignerSeeds(feeVaultBump)); err != nil {
		return err
	}
	// The vault is its own token authority.
	if err := ctx.Invoke(token.InitializeAccount3(feeVault.Key, feeAsset.Key, feeVault.Key)); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Config initialized with admin: %s", admin.Key))
	return nil
}

// loadConfig checks config sits at its derived address and decodes it.
func loadConfig(ctx svm.InvokeContext, config *svm.AccountInfo) (*Config, error) {
	if _, err := expectAddress(ctx, config, configSeeds()); err != nil {
		return nil, err
	}
	var record Config
	if err := loadOwned(ctx, config, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (p *Processor) transferAdmin(ctx svm.InvokeContext) error {
	infos, err := instructionAccounts(ctx, 3)
	if err != nil {
		return err
	}
	admin, newAdmin, config := infos[0], infos[1], infos[2]

	if !admin.IsSigner {
		return errors.Wrap(ErrUnauthorized, "admin must sign")
	}
	record, err := loadConfig(ctx, config)
	if err != nil {
		return err
	}
	if record.Admin != admin.Key {
		return errors.Wrapf(ErrUnauthorized, "%s is not the admin", admin.Key)
	}

	old := record.Admin
	record.Admin = newAdmin.Key
	copy(config.Data, record.Marshal())

	ctx.Log(fmt.Sprintf("Admin transferred from %s to %s", old, newAdmin.Key))
	return nil
}

func (p *Processor) withdrawFees(ctx svm.InvokeContext) error {
	infos, err := instructionAccounts(ctx, 5)
	if err != nil {
		return err
	}
	admin, config, feeVault, destination, tokenProgram :=
		infos[0], infos[1], infos[2], infos[3], infos[4]

	if !admin.IsSigner {
		return errors.Wrap(ErrUnauthorized, "admin must sign")
	}
	if err := expectProgram(tokenProgram, token.ProgramID); err != nil {
		return err
	}
	record, err := loadConfig(ctx, config)
	if err != nil {
		return err
	}
	feeVaultBump, err := expectAddress(ctx, feeVault, feeVaultSeeds())
	if err != nil {
		return err
	}
	if record.Admin != admin.Key {
		return errors.Wrapf(ErrUnauthorized, "%s is not the admin", admin.Key)
	}

	vault, err := loadTokenAccount(feeVault)
	if err != nil {
		return err
	}
	if vault.Amount == 0 {
		ctx.Log("Fee vault is empty")
		return nil
	}

	ix := token.Transfer(feeVault.Key, destination.Key, feeVault.Key, vault.Amount)
	if err := ctx.Invoke(ix, FeeVaultSignerSeeds(feeVaultBump)); err != nil {
		return err
	}

	ctx.Log(fmt.Sprintf("Withdrawn %d USDC base units to %s", vault.Amount, destination.Key))
	return nil
}
