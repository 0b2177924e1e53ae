package asyncnode

import (
	"fmt"

	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"golang.org/x/exp/slog"
)

// Stack is every resource declared by Build.
type Stack struct {
	Image    string
	Network  *Network
	Firewall *ec2.SecurityGroup
	KeyPair  *ec2.KeyPair

	// Instances by machine name.
	Instances map[string]*ec2.Instance

	// Outputs by exported name. These are also exported on the context.
	Outputs map[string]pulumi.StringOutput
}

// Network owns the subnet and routing shared by every machine.
type Network struct {
	VPC         *ec2.Vpc
	Subnet      *ec2.Subnet
	Gateway     *ec2.InternetGateway
	RouteTable  *ec2.RouteTable
	Association *ec2.RouteTableAssociation
}

// Peers are the addresses dependent machines wait on. They resolve once the
// rabbitmq and redis instances have been provisioned.
type Peers struct {
	RabbitMQ pulumi.StringOutput
	Redis    pulumi.StringOutput
}

// Script derives a dependent role's bootstrap script. The derivation runs once,
// after both addresses are known, and never blocks the declaration pass.
func (p Peers) Script(opts ScriptOpts, role Role) pulumi.StringOutput {
	return pulumi.All(p.RabbitMQ, p.Redis).ApplyT(
		func(addrs []interface{}) (string, error) {
			rabbitmqIP, _ := addrs[0].(string)
			redisIP, _ := addrs[1].(string)
			script, err := RenderScript(opts, role, rabbitmqIP,
				redisIP)
			if err != nil {
				return "", fmt.Errorf("render script: %w", err)
			}
			return script, nil
		}).(pulumi.StringOutput)
}

// Program declares the stack with a fixed config.
func Program(log *slog.Logger, conf StackConfig) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		if _, err := Build(ctx, log, conf); err != nil {
			return fmt.Errorf("build: %w", err)
		}
		return nil
	}
}

// ProgramFromConfig declares the stack using the asyncnode namespace of the
// stack's config.
func ProgramFromConfig(log *slog.Logger) pulumi.RunFunc {
	return func(ctx *pulumi.Context) error {
		conf := StackConfigFromPulumi(ctx)
		if _, err := Build(ctx, log, conf); err != nil {
			return fmt.Errorf("build: %w", err)
		}
		return nil
	}
}

// Build declares, in dependency order, the network, firewall, key pair and
// every machine, then exports each machine's public address.
//
// Independent machines are declared first and their addresses captured as
// Peers. Dependent machines follow with scripts derived from Peers.
func Build(
	ctx *pulumi.Context,
	log *slog.Logger,
	conf StackConfig,
) (*Stack, error) {
	conf = conf.WithDefaults()
	log = log.With(slog.String("stack", ctx.Stack()))

	// Everything local must succeed before the first declaration.
	image, err := LookupImage(ctx, log, conf.Image)
	if err != nil {
		return nil, fmt.Errorf("lookup image: %w", err)
	}
	key, err := ReadPublicKey(conf.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	s := &Stack{
		Image:     image,
		Instances: make(map[string]*ec2.Instance, len(Machines)),
		Outputs:   make(map[string]pulumi.StringOutput, len(Machines)),
	}
	s.Network, err = declareNetwork(ctx, log, conf)
	if err != nil {
		return nil, fmt.Errorf("declare network: %w", err)
	}
	s.Firewall, err = declareFirewall(ctx, s.Network)
	if err != nil {
		return nil, fmt.Errorf("declare firewall: %w", err)
	}
	s.KeyPair, err = declareKeyPair(ctx, log, key)
	if err != nil {
		return nil, fmt.Errorf("declare key pair: %w", err)
	}

	opts := conf.ScriptOpts()
	var peers Peers
	for _, m := range Machines {
		if m.Role.Dependent() {
			continue
		}
		script, err := RenderScript(opts, m.Role, "", "")
		if err != nil {
			return nil, fmt.Errorf("render script: %s: %w", m.Name,
				err)
		}
		inst, err := s.declareInstance(ctx, log, conf, m,
			pulumi.String(script))
		if err != nil {
			return nil, fmt.Errorf("declare instance: %w", err)
		}
		switch m.Role {
		case RoleRabbitMQ:
			peers.RabbitMQ = inst.PublicIp
		case RoleRedis:
			peers.Redis = inst.PublicIp
		}
	}
	for _, m := range Machines {
		if !m.Role.Dependent() {
			continue
		}
		_, err := s.declareInstance(ctx, log, conf, m,
			peers.Script(opts, m.Role))
		if err != nil {
			return nil, fmt.Errorf("declare instance: %w", err)
		}
	}

	for _, m := range Machines {
		addr := s.Instances[m.Name].PublicIp
		s.Outputs[m.OutputKey] = addr
		ctx.Export(m.OutputKey, addr)
	}
	log.Info("declared stack", slog.Int("machines", len(s.Instances)))
	return s, nil
}

func resourceName(suffix string) string {
	return fmt.Sprintf("%s-%s", ResourcePrefix, suffix)
}

func nameTag(name string) pulumi.StringMap {
	return pulumi.StringMap{"Name": pulumi.String(name)}
}

func declareNetwork(
	ctx *pulumi.Context,
	log *slog.Logger,
	conf StackConfig,
) (*Network, error) {
	vpcName := resourceName("vpc")
	vpc, err := ec2.NewVpc(ctx, vpcName, &ec2.VpcArgs{
		CidrBlock:          pulumi.String(conf.VPCCIDR),
		EnableDnsSupport:   pulumi.Bool(true),
		EnableDnsHostnames: pulumi.Bool(true),
		Tags:               nameTag(vpcName),
	})
	if err != nil {
		return nil, fmt.Errorf("new vpc: %w", err)
	}

	subnetName := resourceName("subnet")
	subnet, err := ec2.NewSubnet(ctx, subnetName, &ec2.SubnetArgs{
		VpcId:               vpc.ID(),
		CidrBlock:           pulumi.String(conf.SubnetCIDR),
		MapPublicIpOnLaunch: pulumi.Bool(true),
		Tags:                nameTag(subnetName),
	})
	if err != nil {
		return nil, fmt.Errorf("new subnet: %w", err)
	}

	igwName := resourceName("igw")
	igw, err := ec2.NewInternetGateway(ctx, igwName,
		&ec2.InternetGatewayArgs{
			VpcId: vpc.ID(),
			Tags:  nameTag(igwName),
		})
	if err != nil {
		return nil, fmt.Errorf("new internet gateway: %w", err)
	}

	rtName := resourceName("rt")
	rt, err := ec2.NewRouteTable(ctx, rtName, &ec2.RouteTableArgs{
		VpcId: vpc.ID(),
		Routes: ec2.RouteTableRouteArray{
			&ec2.RouteTableRouteArgs{
				CidrBlock: pulumi.String(AnyIPv4),
				GatewayId: igw.ID(),
			},
		},
		Tags: nameTag(rtName),
	})
	if err != nil {
		return nil, fmt.Errorf("new route table: %w", err)
	}

	assoc, err := ec2.NewRouteTableAssociation(ctx, resourceName("rt-assoc"),
		&ec2.RouteTableAssociationArgs{
			SubnetId:     subnet.ID(),
			RouteTableId: rt.ID(),
		})
	if err != nil {
		return nil, fmt.Errorf("new route table association: %w", err)
	}

	log.Debug("declared network",
		slog.String("vpc", conf.VPCCIDR),
		slog.String("subnet", conf.SubnetCIDR))
	return &Network{
		VPC:         vpc,
		Subnet:      subnet,
		Gateway:     igw,
		RouteTable:  rt,
		Association: assoc,
	}, nil
}

func declareFirewall(
	ctx *pulumi.Context,
	n *Network,
) (*ec2.SecurityGroup, error) {
	name := resourceName("sg")
	sg, err := ec2.NewSecurityGroup(ctx, name, &ec2.SecurityGroupArgs{
		VpcId:       n.VPC.ID(),
		Description: pulumi.String("Allow ports for async-node services"),
		Ingress:     ingressRules(),
		Egress:      egressRules(),
		Tags:        nameTag(name),
	})
	if err != nil {
		return nil, fmt.Errorf("new security group: %w", err)
	}
	return sg, nil
}

func declareKeyPair(
	ctx *pulumi.Context,
	log *slog.Logger,
	key PublicKey,
) (*ec2.KeyPair, error) {
	name := resourceName("key")
	kp, err := ec2.NewKeyPair(ctx, name, &ec2.KeyPairArgs{
		PublicKey: pulumi.String(key.Authorized),
		Tags:      nameTag(name),
	})
	if err != nil {
		return nil, fmt.Errorf("new key pair: %w", err)
	}
	log.Debug("declared key pair",
		slog.String("fingerprint", key.Fingerprint))
	return kp, nil
}

// declareInstance in the shared subnet with the shared firewall and key pair.
func (s *Stack) declareInstance(
	ctx *pulumi.Context,
	log *slog.Logger,
	conf StackConfig,
	m Machine,
	script pulumi.StringPtrInput,
) (*ec2.Instance, error) {
	inst, err := ec2.NewInstance(ctx, m.Name, &ec2.InstanceArgs{
		Ami:                      pulumi.String(s.Image),
		InstanceType:             pulumi.String(conf.InstanceType),
		SubnetId:                 s.Network.Subnet.ID(),
		AssociatePublicIpAddress: pulumi.Bool(true),
		VpcSecurityGroupIds:      pulumi.StringArray{s.Firewall.ID()},
		KeyName:                  s.KeyPair.KeyName,
		UserData:                 script,
		Tags:                     nameTag(m.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("new instance: %s: %w", m.Name, err)
	}
	s.Instances[m.Name] = inst
	log.Debug("declared instance",
		slog.String("name", m.Name),
		slog.String("role", string(m.Role)),
		slog.Bool("dependent", m.Role.Dependent()))
	return inst, nil
}
